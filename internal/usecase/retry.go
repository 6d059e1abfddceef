package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"quiz-subscription-engine/internal/domain"
)

// RetryPolicy is the caller-side backoff for transient provider failures.
type RetryPolicy struct {
	Base       time.Duration
	MaxRetries uint64
	Cap        time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	if p.Cap > 0 {
		b = retry.WithCappedDuration(p.Cap, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// NoRetry performs a single call.
var NoRetry = RetryPolicy{MaxRetries: 0}

// callProvider runs fn and repeats it only while it fails with ErrProviderTransient.
// Callers pass the same idempotency key on every try.
func callProvider[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, p.backoff(), func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && errors.Is(err, domain.ErrProviderTransient) {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}
