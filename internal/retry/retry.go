// Package retry implements the resilience wrapper applied to
// network-calling tools. Only classifiable-transient failures are
// retried: timeouts, rate limits (HTTP 429), and server errors (5xx).
// Client errors and validation failures surface immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Policy bounds retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first call.
	MaxAttempts int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// DefaultPolicy matches the upstream tool contract: one retry after a
// one-second pause.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 2, Delay: time.Second}
}

// TransientError marks a failure expected to succeed on retry
// (timeout, rate limit, server error). StatusCode is zero for
// non-HTTP failures such as connection errors.
type TransientError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that will not succeed on retry
// (bad input, not-found, auth failure).
type PermanentError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("permanent upstream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error { return e.Err }

// ClassifyStatus wraps err as transient or permanent based on the HTTP
// status code. Rate limits (429) and server errors (5xx) are transient;
// everything else is permanent.
func ClassifyStatus(code int, err error) error {
	if code == 429 || code >= 500 {
		return &TransientError{StatusCode: code, Err: err}
	}
	return &PermanentError{StatusCode: code, Err: err}
}

// IsTransient reports whether err should be retried. Explicitly marked
// transient errors and network timeouts qualify; explicitly permanent
// errors never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Do invokes fn up to policy.MaxAttempts times, sleeping policy.Delay
// between attempts. Non-transient failures return immediately. After
// exhausting attempts the last transient error is returned unmodified
// so callers can still inspect its classification.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Wrap returns fn with the retry policy applied, for composing with
// other call decorators.
func Wrap[T any](policy Policy, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, policy, fn)
	}
}
