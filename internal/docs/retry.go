package docs

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/api/googleapi"
)

// RetryPolicy bounds retries of a single remote operation.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Default: 3
	MaxAttempts int
	// InitialInterval is the wait before the second attempt. Default: 500ms
	InitialInterval time.Duration
	// MaxInterval caps a single wait. Default: 10s
	MaxInterval time.Duration
	// Multiplier grows the wait between attempts. Default: 2
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.5
	return b
}

// withRetry runs call until it succeeds, fails permanently, or the policy's
// attempts are used up. Each attempt gets its own timeout when timeout > 0.
func withRetry[T any](ctx context.Context, p RetryPolicy, timeout time.Duration, op Operation, call func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	attempt := 0

	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		v, err := call(attemptCtx)
		if err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "remote fetch recovered after retries",
					"operation", op, "attempts", attempt)
			}
			return v, nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "remote fetch failed, retrying",
				"operation", op,
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"error", err)
		}),
	)
}

// IsTransient reports whether a remote error is worth retrying: rate limiting,
// server errors, timeouts of a single attempt, and network faults.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
