package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a limiter that starts with a full bucket. A
// non-positive rate allows everything.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return newRateLimiter(rate, burst, time.Now)
}

func newRateLimiter(rate float64, burst int, now func() time.Time) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

// Allow takes a token if one is available.
func (r *RateLimiter) Allow() bool {
	_, ok := r.reserve()
	return ok
}

// reserve takes a token, or reports how long until one is available.
func (r *RateLimiter) reserve() (time.Duration, bool) {
	if r.rate <= 0 {
		return 0, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	elapsed := now.Sub(r.lastUpdate).Seconds()
	r.lastUpdate = now

	r.tokens += elapsed * r.rate
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}

	if r.tokens >= 1 {
		r.tokens--
		return 0, true
	}
	wait := time.Duration((1 - r.tokens) / r.rate * float64(time.Second))
	return wait, false
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
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
