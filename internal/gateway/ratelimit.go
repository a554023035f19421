package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits requests per principal (bearer token or peer address
// in localhost-dev mode) with a lazily allocated token bucket per key: a
// bucket holds up to maxRequests tokens and refills at maxRequests per
// window. It does not keep an exact sliding window: a key that starts
// with a full bucket can pass up to maxRequests at once and then one more
// every window/maxRequests, so more than maxRequests requests can fall
// inside a single window-length span.
type RateLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter allowing maxRequests per window, per key.
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	if maxRequests <= 0 {
		maxRequests = defaultRateLimitMaxRequests
	}
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		buckets:     make(map[string]*rate.Limiter),
	}
}

// Allow reports whether key may make one more request right now.
func (l *RateLimiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

func (l *RateLimiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets[key]; ok {
		return bucket
	}
	perSecond := rate.Limit(float64(l.maxRequests) / l.window.Seconds())
	bucket := rate.NewLimiter(perSecond, l.maxRequests)
	l.buckets[key] = bucket
	return bucket
}
