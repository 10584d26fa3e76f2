package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound calls to one upstream API class. Instances
// are shared by every caller hitting that class and are safe for
// concurrent use; distinct classes never contend with each other.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IntervalLimiter enforces a minimum spacing between calls. The mutex
// is held across the sleep so two concurrent callers cannot both
// observe a stale timestamp and burst past the limit.
type IntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{interval: interval}
}

func (l *IntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.last)
	if wait := l.interval - elapsed; wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.last = time.Now()
	return nil
}

// AdaptiveLimiter self-tunes its delay against an upstream that may
// silently rate-limit: the delay grows when the rolling error rate is
// high and shrinks again once calls are reliably succeeding.
type AdaptiveLimiter struct {
	mu    sync.Mutex
	delay time.Duration
	min   time.Duration
	max   time.Duration

	window     int // outcomes per adjustment
	minSamples int // required before speeding up
	successes  int
	errors     int
	last       time.Time
}

func NewAdaptiveLimiter(initial, min, max time.Duration) *AdaptiveLimiter {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	return &AdaptiveLimiter{
		delay:      initial,
		min:        min,
		max:        max,
		window:     20,
		minSamples: 10,
	}
}

// Wait holds the lock across the sleep, like IntervalLimiter, so
// concurrent callers cannot observe the same stale timestamp and
// burst through together.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := time.Since(l.last)
	if wait := l.delay - elapsed; wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.last = time.Now()
	return nil
}

// Record feeds one call outcome into the rolling window. Every full
// window the delay is recomputed: error rate above 20% slows down by
// 1.5x, error rate below 5% (with enough samples) speeds up by 0.8x.
func (l *AdaptiveLimiter) Record(ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ok {
		l.successes++
	} else {
		l.errors++
	}

	total := l.successes + l.errors
	if total < l.window {
		return
	}

	errorRate := float64(l.errors) / float64(total)
	switch {
	case errorRate > 0.20:
		l.delay = time.Duration(float64(l.delay) * 1.5)
		if l.delay > l.max {
			l.delay = l.max
		}
	case errorRate < 0.05 && total >= l.minSamples:
		l.delay = time.Duration(float64(l.delay) * 0.8)
		if l.delay < l.min {
			l.delay = l.min
		}
	}
	l.successes = 0
	l.errors = 0
}

// Delay reports the current per-call delay.
func (l *AdaptiveLimiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}
