// Package retry runs external calls under a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds one retried call. MaxRetries counts retries after the
// first attempt; Timeout applies to every attempt separately.
type Policy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Timeout    time.Duration
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	} else {
		b.MaxInterval = 30 * time.Second
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the retry
// budget runs out or ctx is done. onRetry may be nil.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), onRetry func(err error, wait time.Duration)) (T, error) {
	attempt := func() (T, error) {
		callCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		v, err := op(callCtx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(max(p.MaxRetries, 0) + 1)),
		backoff.WithMaxElapsedTime(0),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, d time.Duration) { onRetry(err, d) }))
	}
	v, err := backoff.Retry(ctx, attempt, opts...)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}
