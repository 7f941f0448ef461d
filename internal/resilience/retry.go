package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy configures exponential backoff for transient API errors.
type RetryPolicy struct {
	MaxRetries uint64
	Base       time.Duration
	Max        time.Duration
}

// DefaultRetryPolicy retries three times starting at 500ms, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Base: 500 * time.Millisecond, Max: 10 * time.Second}
}

// RetryAfterer is implemented by errors that carry a server-requested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Retry runs fn and retries it while retryable reports true for the
// returned error, backing off exponentially. A server-requested delay
// (RetryAfterer) is honored up to the policy's cap. The last error is
// returned once retries are exhausted; ctx cancellation ends waiting early.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(context.Context) error) error {
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}

	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Max, b)
	b = retry.WithMaxRetries(p.MaxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		var ra RetryAfterer
		if errors.As(err, &ra) {
			if d := min(ra.RetryAfter(), p.Max); d > 0 {
				if werr := sleep(ctx, d); werr != nil {
					return werr
				}
			}
		}
		return retry.RetryableError(err)
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
