package notification

import (
	"testing"
	"time"
)

// These tests exercise RateLimiter's in-memory fallback path only (client
// is nil); the Redis INCR+EXPIRE path requires a live Redis instance and
// no test in this module covers it.

func TestRateLimiter_AllowsFirstOccurrence(t *testing.T) {
	rl := NewRateLimiter(nil, time.Minute)
	if !rl.Allow("BTCUSDT:1h:conservative:unsafe_leverage") {
		t.Error("expected the first occurrence of a key to be allowed")
	}
}

func TestRateLimiter_SuppressesRepeatWithinWindow(t *testing.T) {
	rl := NewRateLimiter(nil, time.Minute)
	key := "BTCUSDT:1h:conservative:unsafe_leverage"

	if !rl.Allow(key) {
		t.Fatal("expected first call to be allowed")
	}
	if rl.Allow(key) {
		t.Error("expected second call within the window to be suppressed")
	}
}

func TestRateLimiter_AllowsAgainAfterWindowExpires(t *testing.T) {
	rl := NewRateLimiter(nil, 10*time.Millisecond)
	key := "BTCUSDT:1h:conservative:unsafe_leverage"

	if !rl.Allow(key) {
		t.Fatal("expected first call to be allowed")
	}
	time.Sleep(20 * time.Millisecond)
	if !rl.Allow(key) {
		t.Error("expected a call after the window elapsed to be allowed again")
	}
}

func TestRateLimiter_DistinctKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(nil, time.Minute)
	if !rl.Allow("BTCUSDT:1h:conservative:unsafe_leverage") {
		t.Fatal("expected first key to be allowed")
	}
	if !rl.Allow("ETHUSDT:1h:conservative:unsafe_leverage") {
		t.Error("expected a distinct key to be independently allowed")
	}
}

func TestRateLimiter_ShouldSendIsAnAliasForAllow(t *testing.T) {
	rl := NewRateLimiter(nil, time.Minute)
	key := "BTCUSDT:1h:conservative:low_risk_reward"
	if !rl.ShouldSend(key) {
		t.Fatal("expected first ShouldSend call to report true")
	}
	if rl.ShouldSend(key) {
		t.Error("expected second ShouldSend call within the window to report false")
	}
}
