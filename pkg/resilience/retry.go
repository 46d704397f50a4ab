package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrAttemptFailed is what an attempt returns when it ran but did not succeed.
var ErrAttemptFailed = errors.New("attempt failed")

// RetryError is returned when every attempt failed.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error { return e.Last }

// Retry runs op up to attempts times, stopping at the first success.
// There is no backoff between attempts. It returns the number of attempts
// made. The context is only checked between attempts.
func Retry(ctx context.Context, attempts int, op func(attempt int) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		if i > 1 && ctx.Err() != nil {
			return i - 1, &RetryError{Attempts: i - 1, Last: ctx.Err()}
		}
		if last = op(i); last == nil {
			return i, nil
		}
	}
	return attempts, &RetryError{Attempts: attempts, Last: last}
}

// RetryBool adapts a success-reporting operation to Retry.
func RetryBool(ctx context.Context, attempts int, op func(attempt int) bool) (int, error) {
	return Retry(ctx, attempts, func(attempt int) error {
		if op(attempt) {
			return nil
		}
		return ErrAttemptFailed
	})
}
