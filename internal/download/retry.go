package download

import (
	"context"
	"errors"
	"time"
)

// RetryableError marks a transient failure (network error, 5xx) worth another attempt.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// retry runs fn up to attempts times, doubling delay after each retryable failure.
func retry(ctx context.Context, attempts int, delay time.Duration, onRetry func(attempt int, err error), fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error
	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.As(err, new(*RetryableError)) {
			return err
		}
		if i < attempts-1 {
			if onRetry != nil {
				onRetry(i+1, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
