package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default rate limits per platform (requests per second). The iTunes lookup
// API allows roughly 20 calls per minute, so Apple Music gets a burst of one
// request every three seconds.
var defaultRateLimits = map[Key]rate.Limit{
	KeySpotify:    5,
	KeyAppleMusic: rate.Limit(1.0 / 3.0),
	KeyDeezer:     5,
}

// RateLimiterMap holds one rate.Limiter per platform, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[Key]*rate.Limiter
}

// NewRateLimiterMap creates all platform rate limiters.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[Key]*rate.Limiter, len(defaultRateLimits)),
	}
	for key, limit := range defaultRateLimits {
		m.limiters[key] = rate.NewLimiter(limit, 1)
	}
	return m
}

// Wait blocks until the rate limiter for the given platform allows a request,
// or the context is canceled.
func (m *RateLimiterMap) Wait(ctx context.Context, key Key) error {
	m.mu.RLock()
	limiter, ok := m.limiters[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
