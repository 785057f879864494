package retry

import (
	"context"
	"time"
)

// Do calls fn until it succeeds, doubling the wait between attempts.
// maxRetries counts retries after the first attempt.
func Do(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

// Schedule calls fn once per entry in delays, waiting that long before each
// attempt. A zero delay retries immediately. An empty schedule still makes
// one immediate attempt. The last error is returned when the schedule is
// exhausted.
func Schedule(ctx context.Context, delays []time.Duration, fn func(context.Context) error) error {
	if len(delays) == 0 {
		delays = []time.Duration{0}
	}
	var err error
	for _, delay := range delays {
		if delay > 0 {
			if serr := sleep(ctx, delay); serr != nil {
				return serr
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
