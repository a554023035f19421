package policy

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedLimiters bounds the rate limiter's memory the same way the
// teacher's WebhookRateLimiter bounds tracked keys: a principal+tool key
// space is attacker-influenced (a new agent or tool name per call), so it
// must not grow unbounded.
const maxTrackedLimiters = 4096

// RateLimiter is a token-bucket limiter keyed by "<principal>:<tool>",
// built on golang.org/x/time/rate in place of the teacher's hand-rolled
// sliding window — the policy gate needs a smooth per-second rate rather
// than a fixed-window webhook counter.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter returns an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow consumes one token for key, creating its bucket on first use with
// the given rate/burst. Returns false when the bucket is exhausted.
func (r *RateLimiter) Allow(key string, perSecond float64, burst int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.limiters) >= maxTrackedLimiters {
		for k := range r.limiters {
			delete(r.limiters, k)
			break
		}
	}

	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		r.limiters[key] = limiter
	}
	return limiter.Allow()
}

// stepRateLimit enforces a token bucket keyed by principal+tool. A
// RateLimitPerSecond of zero disables rate limiting entirely.
func stepRateLimit(_ context.Context, g *Gate, snap Snapshot, a Action) (Result, bool) {
	if snap.RateLimitPerSecond <= 0 {
		return contOK()
	}

	burst := snap.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	key := a.Principal + ":" + a.ToolName
	if g.RateLimiter.Allow(key, snap.RateLimitPerSecond, burst) {
		return contOK()
	}

	if snap.RateLimitExceededBehavior == "defer" {
		return deferDecision(ReasonRateLimitDeferred, "rate limit exceeded", ""), false
	}
	return deny(ReasonRateLimitRejected, "rate limit exceeded"), false
}
