package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenBucket smooths bursts better than the interval limiter for
// concurrent fan-out: callers can spend banked tokens immediately and
// only then fall back to the steady-state refill rate.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket derives the refill rate from the desired steady-state
// interval between calls.
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(time.Second) / float64(interval),
		lastRefill: time.Now(),
	}
}

func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Take blocks until n tokens are available, then spends them. Asking
// for more than the bucket can ever hold is an error; such a request
// would wait forever.
func (b *TokenBucket) Take(ctx context.Context, n int) error {
	need := float64(n)
	if need > b.capacity {
		return fmt.Errorf("requested %d tokens exceeds bucket capacity %d", n, int(b.capacity))
	}
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= need {
			b.tokens -= need
			b.mu.Unlock()
			return nil
		}
		shortfall := need - b.tokens
		wait := time.Duration(shortfall / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Wait satisfies Limiter by taking a single token.
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.Take(ctx, 1)
}
