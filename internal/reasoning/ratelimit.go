package reasoning

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket bounding requests per minute to the
// reasoning engine. A nil limiter allows everything.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per minute.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		tokens:     float64(perMinute),
		maxTokens:  float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for {
		wait, ok := r.take()
		if ok {
			return nil
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

// take consumes a token if available, otherwise reports how long to wait
// before the next token is due.
func (r *RateLimiter) take() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefill = now

	if r.tokens >= 1 {
		r.tokens--
		return 0, true
	}
	deficit := 1 - r.tokens
	return time.Duration(deficit / r.refillRate * float64(time.Second)), false
}
