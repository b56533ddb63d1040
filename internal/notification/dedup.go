package notification

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter de-duplicates early-exit notifications for the same
// (symbol, timeframe, strategy, reason) key, as built by
// Manager.SendEarlyExit, within a sliding window, using Redis INCR+EXPIRE so the limit is shared across every
// orchestrator worker process. A flapping capability provider producing
// the same early exit on every candle must not spam the notification
// transport. Falls back to an in-memory, process-local counter whenever
// Redis is unreachable — a worker must never block or drop a
// notification because the rate-limit store is down.
type RateLimiter struct {
	client *redis.Client
	window time.Duration

	mu       sync.Mutex
	fallback map[string]time.Time
}

// NewRateLimiter creates a RateLimiter. client may be nil, in which case
// every Allow call uses the in-memory fallback only.
func NewRateLimiter(client *redis.Client, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client:   client,
		window:   window,
		fallback: make(map[string]time.Time),
	}
}

// Allow reports whether a notification for key may be sent now, i.e. no
// notification for the same key has gone out within window.
func (d *RateLimiter) Allow(key string) bool {
	if d.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		redisKey := "notify:ratelimit:" + key
		count, err := d.client.Incr(ctx, redisKey).Result()
		if err == nil {
			if count == 1 {
				d.client.Expire(ctx, redisKey, d.window)
			}
			return count == 1
		}
	}
	return d.allowLocal(key)
}

// ShouldSend is an alias for Allow, satisfying the Deduplicator interface
// used by Manager.
func (d *RateLimiter) ShouldSend(key string) bool {
	return d.Allow(key)
}

func (d *RateLimiter) allowLocal(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.fallback[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.fallback[key] = now
	return true
}
