package usecase

import (
	"context"
	"time"

	"agentsync/internal/domain"
)

// RetryPolicy bounds retries of transient chain failures: exponential
// delay, capped attempts. Deterministic rejections are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retry runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted (in which case the last transient error is
// returned).
func (p RetryPolicy) retry(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt - 1)):
			}
		}
		err = fn()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
	}
	return err
}
