package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrRetryLimitExceeded = errors.New("retry limit exceeded")

// Policy is a bounded, flat-delay retry loop. Attempts are sequential: an
// in-flight call always finishes before the next decision is made.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// Retryable classifies an error. Nil retries every error.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil uses a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Exhaustion returns ErrRetryLimitExceeded joined
// with the last cause; no wait follows the final attempt.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.Delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryLimitExceeded, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
