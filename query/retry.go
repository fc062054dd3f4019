package query

import (
	"context"
	"errors"
	"time"
)

// runWithRetry invokes op until it succeeds or maxAttempts are spent,
// pausing delay between attempts. It returns op's value, the number of
// invocations made, and the terminal error. Context cancellation aborts
// immediately, both between attempts and when op itself reports it.
func runWithRetry(ctx context.Context, maxAttempts int, delay time.Duration, op func(context.Context) (any, error)) (any, int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attempts = attempt
		data, err := op(ctx)
		if err == nil {
			return data, attempts, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, attempts, err
		}
		if attempt == maxAttempts {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, attempts, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, attempts, lastErr
}
