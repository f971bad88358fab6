package rate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Limiter spaces out outbound requests by a base interval with random jitter.
// Slots are reserved under the lock so concurrent callers never share one.
type Limiter struct {
	mu        sync.Mutex
	next      time.Time
	interval  time.Duration
	maxJitter time.Duration
}

// New creates a limiter. An interval of 800ms with 200ms jitter yields gaps between 600ms and 1s.
func New(interval, jitter time.Duration) *Limiter {
	return &Limiter{
		interval:  interval,
		maxJitter: jitter,
	}
}

// Wait blocks until the caller's slot comes up or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	delay := l.reserve(time.Now())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims the next free slot and returns how long until it starts.
func (l *Limiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot := l.next
	if slot.Before(now) {
		slot = now
	}

	gap := l.interval
	if l.maxJitter > 0 {
		gap += time.Duration(rand.Int64N(int64(l.maxJitter)*2)) - l.maxJitter
	}
	l.next = slot.Add(max(gap, 0))

	return slot.Sub(now)
}
