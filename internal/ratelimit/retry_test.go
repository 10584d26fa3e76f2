package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Base: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("HTTP 429"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, Base: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return Retryable(errors.New("connection reset"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.ErrorIs(t, err, ErrRetryable)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Base: time.Millisecond}

	calls := 0
	boom := errors.New("bad api key")
	err := policy.Do(context.Background(), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryTinyBackoffBase(t *testing.T) {
	// A base below 2ns leaves no room for jitter; backoff must still
	// work instead of panicking on an empty jitter range.
	policy := RetryPolicy{MaxRetries: 2, Base: time.Nanosecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return Retryable(errors.New("HTTP 429"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Base: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := policy.Do(ctx, func() error {
		return Retryable(errors.New("timeout"))
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryableWrappingPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	wrapped := Retryable(cause)

	assert.ErrorIs(t, wrapped, ErrRetryable)
	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, Retryable(nil))
}
