package dialog

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("artist-1") || !rl.Allow("artist-1") {
		t.Fatal("expected first two requests to be allowed")
	}
	if rl.Allow("artist-1") {
		t.Fatal("expected third request to be limited")
	}
	if !rl.Allow("artist-2") {
		t.Fatal("expected other users to have their own budget")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("artist-1") {
		t.Fatal("expected request to be allowed after the window")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	rl.Allow("artist-1")

	now = now.Add(2 * time.Minute)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.requests) != 0 {
		t.Fatalf("expected expired keys to be evicted, got %d", len(rl.requests))
	}
}

func TestNewRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	defer rl.Stop()
	if rl.limit != 10 || rl.window != time.Minute {
		t.Fatalf("unexpected defaults: %d per %s", rl.limit, rl.window)
	}
}
