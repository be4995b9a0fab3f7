package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the single retry rule applied around upload attempts.
// The zero value makes exactly one attempt.
type RetryPolicy struct {
	Retries         int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Attempts returns the maximum number of attempts the policy allows
func (r RetryPolicy) Attempts() int {
	if r.Retries <= 0 {
		return 1
	}
	return r.Retries + 1
}

// Do runs op until it succeeds, fails with a non-retriable error, or the
// retry budget is spent. It returns the number of attempts made.
func (r RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) (int, error) {
	if r.Retries <= 0 {
		return 1, op()
	}

	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempts++
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retriable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.Retries)), ctx), notify)

	// A cancelled context during the wait hides the attempt's own error.
	if err != nil && lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return attempts, lastErr
	}
	return attempts, err
}

func retriable(err error) bool {
	var f *TransferFailure
	if errors.As(err, &f) {
		return f.Retriable()
	}
	return false
}
