package gateway

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMaxThenDenies(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 2)
	if !limiter.Allow("alex") {
		t.Fatal("expected first request to be allowed")
	}
	if !limiter.Allow("alex") {
		t.Fatal("expected second request to be allowed")
	}
	if limiter.Allow("alex") {
		t.Fatal("expected third request within the window to be denied")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 1)
	if !limiter.Allow("alex") {
		t.Fatal("expected alex's first request to be allowed")
	}
	if !limiter.Allow("sam") {
		t.Fatal("expected sam's independent bucket to allow its own first request")
	}
	if limiter.Allow("alex") {
		t.Fatal("expected alex's second request to be denied")
	}
}
