// Package ratelimit spaces requests per server with token buckets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrPastDeadline reports that the next request slot for a key opens after
// the caller's deadline.
var ErrPastDeadline = errors.New("next request slot is past the deadline")

// Limiter keeps one single-token bucket per server key, so consecutive
// request starts for a server are at least its interval apart.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a new Limiter.
func New() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

func limitFor(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

func (l *Limiter) get(key string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(limitFor(interval), 1)
		l.limiters[key] = limiter
		return limiter
	}
	if want := limitFor(interval); limiter.Limit() != want {
		limiter.SetLimit(want)
	}
	return limiter
}

// Wait blocks until key may issue another request spaced by interval and
// returns how long it waited.
func (l *Limiter) Wait(ctx context.Context, key string, interval time.Duration) (time.Duration, error) {
	limiter := l.get(key, interval)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	return time.Since(start), nil
}

// WaitBefore is Wait with a deadline: when the next slot for key opens after
// deadline it returns ErrPastDeadline immediately without consuming the slot.
// A zero deadline behaves like Wait.
func (l *Limiter) WaitBefore(ctx context.Context, key string, interval time.Duration, deadline time.Time) (time.Duration, error) {
	if deadline.IsZero() {
		return l.Wait(ctx, key, interval)
	}
	limiter := l.get(key, interval)
	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return 0, fmt.Errorf("rate limit reserve for %s failed", key)
	}
	delay := reservation.DelayFrom(now)
	if now.Add(delay).After(deadline) {
		reservation.CancelAt(now)
		return 0, ErrPastDeadline
	}
	if delay <= 0 {
		return 0, nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return time.Since(now), fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return delay, nil
	}
}

// Delay reports how long until key may issue another request spaced by
// interval, without consuming the slot.
func (l *Limiter) Delay(key string, interval time.Duration) time.Duration {
	limiter := l.get(key, interval)
	if limiter.Limit() == rate.Inf {
		return 0
	}
	tokens := limiter.TokensAt(time.Now())
	if tokens >= 1 {
		return 0
	}
	wait := (1 - tokens) / float64(limiter.Limit()) * float64(time.Second)
	if wait >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(wait)
}

// Forget drops the bucket for key once a server's work is finished.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
