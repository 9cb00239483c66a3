// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Backoff returns the wait after the given failed attempt (1-based)
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 || attempt < 1 {
		return 0
	}
	d := p.BaseBackoff << uint(attempt-1)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// ExhaustedError is returned when every attempt failed with a retryable error
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. retryable decides which errors are
// worth another attempt.
func Do(ctx context.Context, p Policy, op string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if i == attempts {
			break
		}

		wait := p.Backoff(i)
		log.WithFields(log.Fields{
			"op":      op,
			"attempt": i,
			"max":     attempts,
			"backoff": wait,
		}).Warnf("attempt failed, retrying: %v", err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		case <-t.C:
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
