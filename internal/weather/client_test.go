package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peregrine-ai/peregrine/internal/retry"
)

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2.5/weather" {
			t.Errorf("path = %q, want /data/2.5/weather", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "Paris" || q.Get("units") != "metric" || q.Get("appid") != "test-key" {
			t.Errorf("query = %v", q)
		}
		fmt.Fprint(w, `{"main":{"temp":21.3,"humidity":55},"weather":[{"description":"scattered clouds"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	obs, err := c.Current(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if obs.TempC != 21.3 || obs.Humidity != 55 || obs.Condition != "scattered clouds" {
		t.Errorf("Current() = %+v", obs)
	}
}

func TestCurrentStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		c := NewClient(srv.URL, "k")
		_, err := c.Current(context.Background(), "Paris")
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: Current() error = nil", tt.status)
		}
		if got := retry.IsTransient(err); got != tt.transient {
			t.Errorf("status %d: IsTransient = %v, want %v", tt.status, got, tt.transient)
		}
	}
}

func TestCurrentConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(srv.URL, "k")
	_, err := c.Current(context.Background(), "Paris")
	if err == nil {
		t.Fatal("Current() error = nil, want connection error")
	}
	var trans *retry.TransientError
	if !errors.As(err, &trans) {
		t.Errorf("Current() error = %v, want *retry.TransientError", err)
	}
}
