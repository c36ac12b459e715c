package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all fetches against one upstream.
// Open-Meteo and Gamma both throttle bursty clients, and the fan-out issues
// one request per (location, model).
type RateLimiter struct {
	mu             sync.Mutex
	tokens         int
	maxTokens      int
	refillInterval time.Duration
	lastRefill     time.Time
	now            func() time.Time
}

// NewRateLimiter allows a burst of maxTokens and one more call per
// refillInterval after that.
func NewRateLimiter(maxTokens int, refillInterval time.Duration) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 1
	}
	if refillInterval <= 0 {
		refillInterval = time.Millisecond
	}
	return &RateLimiter{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
		now:            time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.take()
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

// take consumes a token, or reports how long until the next one.
func (r *RateLimiter) take() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if n := int(now.Sub(r.lastRefill) / r.refillInterval); n > 0 {
		r.tokens = min(r.tokens+n, r.maxTokens)
		r.lastRefill = r.lastRefill.Add(time.Duration(n) * r.refillInterval)
	}
	if r.tokens > 0 {
		r.tokens--
		return 0, true
	}
	return r.refillInterval - now.Sub(r.lastRefill), false
}
