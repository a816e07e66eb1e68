package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLease(t *testing.T, ttl time.Duration) (*Lease, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, ttl), mr
}

func TestLease_SingleOwner(t *testing.T) {
	l, _ := setupLease(t, 30*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ev-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "ev-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok, "second worker must not get the lease")

	ok, err = l.Acquire(ctx, "ev-2", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok, "leases are per event")
}

func TestLease_ReleaseRequiresOwnership(t *testing.T) {
	l, _ := setupLease(t, 30*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ev-1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "ev-1", "worker-b"))
	ok, err = l.Acquire(ctx, "ev-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner must be a no-op")

	require.NoError(t, l.Release(ctx, "ev-1", "worker-a"))
	ok, err = l.Acquire(ctx, "ev-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_ExpiresAndExtends(t *testing.T) {
	l, mr := setupLease(t, 10*time.Second)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "ev-1", "worker-a")
	require.NoError(t, err)
	require.True(t, ok)

	extended, err := l.Extend(ctx, "ev-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, extended)

	extended, err = l.Extend(ctx, "ev-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, extended)

	mr.FastForward(11 * time.Second)

	ok, err = l.Acquire(ctx, "ev-1", "worker-b")
	require.NoError(t, err)
	assert.True(t, ok, "lease should expire with its TTL")
}
