package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalLimiterLowerBound(t *testing.T) {
	const interval = 20 * time.Millisecond
	limiter := NewIntervalLimiter(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	elapsed := time.Since(start)

	// First call is free; the remaining three each pay the interval.
	assert.GreaterOrEqual(t, elapsed, 3*interval-time.Millisecond)
}

func TestIntervalLimiterConcurrentCallersDoNotBurst(t *testing.T) {
	const interval = 15 * time.Millisecond
	limiter := NewIntervalLimiter(interval)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Wait(context.Background())
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 4*interval-time.Millisecond)
}

func TestIntervalLimiterHonorsContext(t *testing.T) {
	limiter := NewIntervalLimiter(time.Minute)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAdaptiveLimiterSlowsDownOnErrors(t *testing.T) {
	limiter := NewAdaptiveLimiter(10*time.Millisecond, time.Millisecond, time.Second)
	before := limiter.Delay()

	// 20 outcomes at 50% error rate crosses the slow-down threshold.
	for i := 0; i < 20; i++ {
		limiter.Record(i%2 == 0)
	}

	assert.Greater(t, limiter.Delay(), before)
}

func TestAdaptiveLimiterConcurrentCallersDoNotBurst(t *testing.T) {
	const delay = 15 * time.Millisecond
	limiter := NewAdaptiveLimiter(delay, time.Millisecond, time.Second)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Wait(context.Background())
		}()
	}
	wg.Wait()

	// First call is free; the remaining four each pay the delay.
	assert.GreaterOrEqual(t, time.Since(start), 4*delay-time.Millisecond)
}

func TestAdaptiveLimiterSpeedsUpWhenHealthy(t *testing.T) {
	limiter := NewAdaptiveLimiter(10*time.Millisecond, time.Millisecond, time.Second)
	before := limiter.Delay()

	for i := 0; i < 20; i++ {
		limiter.Record(true)
	}

	assert.Less(t, limiter.Delay(), before)
}

func TestAdaptiveLimiterRespectsBounds(t *testing.T) {
	limiter := NewAdaptiveLimiter(10*time.Millisecond, 8*time.Millisecond, 12*time.Millisecond)

	for round := 0; round < 10; round++ {
		for i := 0; i < 20; i++ {
			limiter.Record(false)
		}
	}
	assert.Equal(t, 12*time.Millisecond, limiter.Delay(), "delay caps at max")

	for round := 0; round < 10; round++ {
		for i := 0; i < 20; i++ {
			limiter.Record(true)
		}
	}
	assert.Equal(t, 8*time.Millisecond, limiter.Delay(), "delay floors at min")
}

func TestTokenBucketSpendsCapacityThenBlocks(t *testing.T) {
	const interval = 20 * time.Millisecond
	bucket := NewTokenBucket(3, interval)
	ctx := context.Background()

	// Banked capacity goes out immediately.
	start := time.Now()
	require.NoError(t, bucket.Take(ctx, 3))
	assert.Less(t, time.Since(start), interval)

	// The next token has to wait for a refill.
	start = time.Now()
	require.NoError(t, bucket.Take(ctx, 1))
	assert.GreaterOrEqual(t, time.Since(start), interval/2)
}

func TestTokenBucketRejectsOverCapacityTake(t *testing.T) {
	bucket := NewTokenBucket(2, time.Millisecond)

	start := time.Now()
	err := bucket.Take(context.Background(), 5)
	require.Error(t, err, "a request the bucket can never satisfy must not block")
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// The bucket stays usable afterwards.
	require.NoError(t, bucket.Take(context.Background(), 2))
}

func TestTokenBucketHonorsContext(t *testing.T) {
	bucket := NewTokenBucket(1, time.Minute)
	require.NoError(t, bucket.Take(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bucket.Take(ctx, 1), context.DeadlineExceeded)
}
