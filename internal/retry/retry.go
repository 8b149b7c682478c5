// Package retry provides a bounded retry helper for transient I/O errors.
package retry

import (
	"context"
	"errors"
	"time"
)

// BackoffFunc returns the wait duration before the next attempt.
// The first retry is attempt 1.
type BackoffFunc func(attempt int) time.Duration

// Linear scales the base delay with the attempt number.
func Linear(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Do runs op up to attempts times, sleeping backoff(attempt) between tries.
// Context cancellation stops retrying immediately; the last error is
// returned once attempts are exhausted.
func Do(ctx context.Context, attempts int, backoff BackoffFunc, op func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(0)
		if backoff != nil {
			wait = backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
