package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps test runtime negligible.
var fastPolicy = Policy{MaxAttempts: 2, Delay: time.Millisecond}

func TestDoTransientThenSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &TransientError{StatusCode: 500, Err: errors.New("server error")}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want %q", got, "ok")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDoPermanentNotRetried(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, func(ctx context.Context) (string, error) {
		calls++
		return "", &PermanentError{StatusCode: 404, Err: errors.New("not found")}
	})
	if err == nil {
		t.Fatal("Do() error = nil, want permanent error")
	}
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("Do() error = %v, want *PermanentError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (permanent errors must not retry)", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &TransientError{StatusCode: 503, Err: errors.New("unavailable")}
	})
	if err == nil {
		t.Fatal("Do() error = nil, want transient error after exhaustion")
	}
	var trans *TransientError
	if !errors.As(err, &trans) {
		t.Errorf("Do() error = %v, want *TransientError preserved", err)
	}
	if calls != fastPolicy.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, fastPolicy.MaxAttempts)
	}
}

func TestDoContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	slow := Policy{MaxAttempts: 3, Delay: time.Minute}
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, slow, func(ctx context.Context) (int, error) {
			calls++
			return 0, &TransientError{Err: errors.New("flaky")}
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after context cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		err := ClassifyStatus(tt.code, errors.New("upstream"))
		if got := IsTransient(err); got != tt.transient {
			t.Errorf("IsTransient(ClassifyStatus(%d)) = %v, want %v", tt.code, got, tt.transient)
		}
	}
}

func TestIsTransientPlainError(t *testing.T) {
	if IsTransient(errors.New("plain")) {
		t.Error("IsTransient(plain error) = true, want false")
	}
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true, want false")
	}
}
