package worker

import (
	"context"
	"time"

	"defect-inspection/internal/domain"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds per-file attempts. Delays start at BaseDelay and double
// after each failed attempt, capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failed attempt may be tried again.
	Retryable func(error) bool
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   domain.IsRetryable,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = domain.IsRetryable
	}
	return p
}

// Delay returns the wait before attempt n+1 after attempt n failed (n >= 1).
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	p = p.normalized()

	attempt := 0
	var lastErr error
	backoff := retry.WithMaxRetries(uint64(p.MaxAttempts-1),
		retry.WithCappedDuration(p.MaxDelay, retry.NewExponential(p.BaseDelay)))
	backoff = notifyingBackoff(backoff, func(d time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, d)
		}
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		lastErr = fn(ctx, attempt)
		if lastErr != nil && p.Retryable(lastErr) {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})
	if err != nil && lastErr != nil && ctx.Err() != nil {
		// The caller went away while waiting; report the attempt error instead.
		return attempt, lastErr
	}
	return attempt, err
}

func notifyingBackoff(next retry.Backoff, notify func(time.Duration)) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if !stop {
			notify(d)
		}
		return d, stop
	})
}
