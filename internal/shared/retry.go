package shared

import (
	"context"
	"time"
)

// RetryConflict runs fn up to attempts times while it fails with ConcurrencyConflict, sleeping with
// exponential backoff between attempts. Other errors are returned immediately.
func RetryConflict(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	delay := base
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
