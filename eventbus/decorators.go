package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/leeforge/workforce/errors"
)

// The bus never retries or times out a handler. These wrappers let a handler
// opt into either.

// WithRetry calls h up to attempts times until it returns nil, stopping early
// when ctx is done.
func WithRetry(h Handler, attempts int) Handler {
	return WithBackoff(h, attempts, 0, 0)
}

// WithBackoff is WithRetry with a delay between attempts that doubles from
// initial up to maxDelay.
func WithBackoff(h Handler, attempts int, initial, maxDelay time.Duration) Handler {
	if attempts < 1 {
		attempts = 1
	}
	return func(ctx context.Context, payload any, meta Metadata) error {
		var lastErr error
		delay := initial

		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				if delay > 0 {
					timer := time.NewTimer(delay)
					select {
					case <-ctx.Done():
						timer.Stop()
						return ctx.Err()
					case <-timer.C:
					}
					delay *= 2
					if maxDelay > 0 && delay > maxDelay {
						delay = maxDelay
					}
				} else if err := ctx.Err(); err != nil {
					return err
				}
			}

			if lastErr = h(ctx, payload, meta); lastErr == nil {
				return nil
			}
		}
		return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
}

// WithTimeout cancels the context passed to h after d. h must honour ctx for
// the timeout to take effect; the wrapper waits for h to return either way.
func WithTimeout(h Handler, d time.Duration) Handler {
	return func(ctx context.Context, payload any, meta Metadata) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := h(ctx, payload, meta)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return errors.WrapWithType(err, errors.ErrorTypeTimeout, fmt.Sprintf("handler timed out after %s", d))
		}
		return err
	}
}
