// Package ratelimit implements the token bucket throttling outbound
// requests. One token is spent per HTTP request; refill is continuous at
// the configured rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	lastFill time.Time
}

// New builds a limiter allowing rate requests per second. A rate of zero
// or less disables limiting entirely (nil limiter).
func New(rate float64) *Limiter {
	if rate <= 0 {
		return nil
	}
	capacity := rate
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		lastFill: time.Now(),
	}
}

// Acquire blocks until a token is available or the context is cancelled.
// A nil limiter never blocks.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		l.refillLocked(time.Now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastFill)
	if elapsed <= 0 {
		l.lastFill = now
		return
	}
	l.tokens += elapsed.Seconds() * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastFill = now
}
