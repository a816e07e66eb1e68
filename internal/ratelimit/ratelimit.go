// Package ratelimit enforces per-credential request budgets with a
// Redis-backed sliding window, shared across all gateway instances.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint-io/relaypoint/internal/metrics"
)

// Decision is the outcome of a rate limit check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// slidingWindow removes expired entries, counts the rest and either
// records the new request or reports how long until a slot frees up.
// Runs as one script so concurrent gateways cannot double-spend a slot.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

	local current = redis.call('ZCARD', key)
	if current < limit then
		redis.call('ZADD', key, now, ARGV[4])
		redis.call('PEXPIRE', key, window)
		return {1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = oldest[2] + window - now
	if retry < 0 then
		retry = 0
	end
	return {0, retry}
`)

// RedisLimiter implements Limiter on a shared Redis client.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	// Score is milliseconds for window math; the member must be unique
	// per request or same-millisecond bursts collapse into one entry
	// and the window undercounts.
	now := time.Now()

	result, err := slidingWindow.Run(ctx, r.client,
		[]string{"ratelimit:" + key},
		now.UnixMilli(), r.window.Milliseconds(), r.limit,
		fmt.Sprintf("%d-%06d", now.UnixNano(), rand.Intn(1000000)),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 2 {
		return Decision{}, fmt.Errorf("rate limit check failed: unexpected reply %v", result)
	}

	decision := Decision{
		Allowed:    result[0] == 1,
		RetryAfter: time.Duration(result[1]) * time.Millisecond,
	}
	if !decision.Allowed {
		metrics.RateLimitHits.WithLabelValues(key).Inc()
	}
	return decision, nil
}

// NoOpLimiter always allows requests, used when rate limiting is
// disabled in config and in tests.
type NoOpLimiter struct{}

func (NoOpLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
