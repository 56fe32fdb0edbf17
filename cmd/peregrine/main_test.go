package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), strings.NewReader(""), &out, &out, args)
	return out.String(), err
}

func TestRunVersionText(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("run(version) failed: %v", err)
	}

	if !strings.Contains(out, "Peregrine") {
		t.Errorf("output missing banner:\n%s", out)
	}
	for _, key := range []string{"version:", "go_version:", "os:", "arch:"} {
		if !strings.Contains(out, key) {
			t.Errorf("output missing %q:\n%s", key, out)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	out, err := runCommand(t, "-o", "json", "version")
	if err != nil {
		t.Fatalf("run(-o json version) failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if info["version"] == "" {
		t.Errorf("json output missing version: %v", info)
	}
	if info["go_version"] == "" {
		t.Errorf("json output missing go_version: %v", info)
	}
}

func TestRunNoCommandPrintsUsage(t *testing.T) {
	out, err := runCommand(t)
	if err != nil {
		t.Fatalf("run() failed: %v", err)
	}

	for _, want := range []string{"Usage:", "serve", "chat", "ask", "version", "-config"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage output missing %q:\n%s", want, out)
		}
	}
}

func TestRunHelpFlagPrintsUsage(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		out, err := runCommand(t, flag)
		if err != nil {
			t.Fatalf("run(%s) failed: %v", flag, err)
		}
		if !strings.Contains(out, "Usage:") {
			t.Errorf("run(%s) output missing usage:\n%s", flag, out)
		}
	}
}

func TestRunRejectsBadInvocations(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "unknown command",
			args:    []string{"frobnicate"},
			wantErr: "unknown command: frobnicate",
		},
		{
			name:    "unknown flag",
			args:    []string{"-bogus"},
			wantErr: "unknown flag: -bogus",
		},
		{
			name:    "unknown output format",
			args:    []string{"-o", "xml", "version"},
			wantErr: "unknown output format",
		},
		{
			name:    "ask without a question",
			args:    []string{"ask"},
			wantErr: "usage: peregrine ask",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, tt.args...)
			if err == nil {
				t.Fatalf("run(%v) error = nil, want error", tt.args)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run(%v) error = %q, want containing %q", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestRunServeMissingExplicitConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := runCommand(t, "-config", missing, "serve")
	if err == nil {
		t.Fatal("run(serve) with missing -config error = nil, want error")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %q, want config-not-found", err)
	}
}
