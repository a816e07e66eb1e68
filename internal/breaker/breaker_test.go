package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBreaker(t *testing.T, threshold int, window, coolDown time.Duration) (*Breaker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, threshold, window, coolDown), mr
}

func failN(t *testing.T, b *Breaker, target string, n int) State {
	t.Helper()

	var state State
	var err error
	for i := 0; i < n; i++ {
		state, err = b.RecordFailure(context.Background(), target)
		require.NoError(t, err)
	}
	return state
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := setupBreaker(t, 3, time.Minute, 30*time.Second)
	ctx := context.Background()

	state := failN(t, b, "crm", 2)
	assert.Equal(t, StateClosed, state)

	allowed, state, err := b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, StateClosed, state)

	state = failN(t, b, "crm", 1)
	assert.Equal(t, StateOpen, state)

	allowed, state, err = b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, StateOpen, state)
}

func TestBreaker_TargetsAreIsolated(t *testing.T) {
	b, _ := setupBreaker(t, 2, time.Minute, 30*time.Second)
	ctx := context.Background()

	failN(t, b, "crm", 2)

	allowed, _, err := b.Allow(ctx, "billing")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b, mr := setupBreaker(t, 2, time.Minute, 10*time.Second)
	ctx := context.Background()

	failN(t, b, "crm", 2)
	mr.FastForward(11 * time.Second)

	allowed, state, err := b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, allowed, "first caller gets the probe")
	assert.Equal(t, StateHalfOpen, state)

	allowed, state, err = b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.False(t, allowed, "second caller waits for the probe outcome")
	assert.Equal(t, StateHalfOpen, state)
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, mr := setupBreaker(t, 2, time.Minute, 10*time.Second)
	ctx := context.Background()

	failN(t, b, "crm", 2)
	mr.FastForward(11 * time.Second)

	allowed, _, err := b.Allow(ctx, "crm")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, b.RecordSuccess(ctx, "crm"))

	allowed, state, err := b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, StateClosed, state)
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, mr := setupBreaker(t, 2, time.Minute, 10*time.Second)
	ctx := context.Background()

	failN(t, b, "crm", 2)
	mr.FastForward(11 * time.Second)

	allowed, _, err := b.Allow(ctx, "crm")
	require.NoError(t, err)
	require.True(t, allowed)

	state, err := b.RecordFailure(ctx, "crm")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	allowed, state, err = b.Allow(ctx, "crm")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, StateOpen, state)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := setupBreaker(t, 3, time.Minute, 10*time.Second)
	ctx := context.Background()

	failN(t, b, "crm", 2)
	require.NoError(t, b.RecordSuccess(ctx, "crm"))

	state := failN(t, b, "crm", 2)
	assert.Equal(t, StateClosed, state, "count should restart after a success")
}
