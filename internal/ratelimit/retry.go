package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrRetryable marks failures worth another attempt: HTTP 429, 5xx,
// timeouts and connection errors. Anything else fails immediately.
var ErrRetryable = errors.New("retryable upstream failure")

// Retryable wraps err so the retry policy will back off and try again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err}
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }
func (e retryableError) Is(target error) bool {
	return target == ErrRetryable
}

// RetryPolicy is the one shared retry-with-backoff primitive for every
// upstream call site. Backoff is base * 2^attempt plus jitter.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
}

// Do runs fn until it succeeds, fails non-retryably, or the attempt
// budget runs out. The returned error is the last one seen; callers
// treat it as a soft miss, never a batch abort.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := base * time.Duration(1<<(attempt-1))
			if jitterMax := int64(base) / 2; jitterMax > 0 {
				backoff += time.Duration(rand.Int63n(jitterMax))
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetryable) {
			return err
		}
	}
	return err
}
