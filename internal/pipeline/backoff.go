package pipeline

import (
	"context"
	"time"
)

// retry runs fn until it succeeds, attempts are exhausted, or ctx ends.
// attempts <= 0 means retry forever. The delay between attempts doubles from
// base up to cap (exponential backoff).
func retry(ctx context.Context, attempts int, base, cap time.Duration, fn func() error) error {
	delay := base
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempts > 0 && attempt >= attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cap {
			delay = cap
		}
	}
}
