package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines bounded retry with backoff for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do retries fn up to MaxRetries times, sleeping Backoff between attempts.
func (r RetryPolicy) Do(fn func() error) error {
	return r.DoContext(context.Background(), func(context.Context) error { return fn() })
}

// DoContext retries fn with backoff until it succeeds, the attempts are
// exhausted, or ctx is cancelled. Cancellation wins over an in-progress
// backoff so an abandoned attempt cannot outlive its caller.
func (r RetryPolicy) DoContext(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		select {
		case <-time.After(r.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
