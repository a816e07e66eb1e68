package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, limit int, window time.Duration) *RedisLimiter {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLimiter(client, limit, window)
}

func TestRedisLimiter_AllowsUpToLimit(t *testing.T) {
	limiter := setupLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(ctx, "key-1")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should be allowed", i+1)
	}

	decision, err := limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestRedisLimiter_BurstInSameMillisecond(t *testing.T) {
	limiter := setupLimiter(t, 5, time.Minute)
	ctx := context.Background()

	// A tight loop lands many requests in the same millisecond; each
	// must still occupy its own window slot.
	allowed := 0
	for i := 0; i < 200; i++ {
		decision, err := limiter.Allow(ctx, "burst-key")
		require.NoError(t, err)
		if decision.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	limiter := setupLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		first, err := limiter.Allow(ctx, "key-a")
		require.NoError(t, err)
		assert.True(t, first.Allowed)

		second, err := limiter.Allow(ctx, "key-b")
		require.NoError(t, err)
		assert.True(t, second.Allowed)
	}

	blocked, err := limiter.Allow(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	blocked, err = limiter.Allow(ctx, "key-b")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)
}

func TestRedisLimiter_WindowSlides(t *testing.T) {
	limiter := setupLimiter(t, 1, 100*time.Millisecond)
	ctx := context.Background()

	decision, err := limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	time.Sleep(150 * time.Millisecond)

	decision, err = limiter.Allow(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "slot should free up after the window passes")
}

func TestNoOpLimiter(t *testing.T) {
	limiter := NoOpLimiter{}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := limiter.Allow(ctx, "any")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}
