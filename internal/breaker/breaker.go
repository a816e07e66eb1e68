// Package breaker provides a circuit breaker per target system, backed
// by Redis so breaker state is shared across dispatcher instances.
package breaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaypoint-io/relaypoint/internal/metrics"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Keys per target: "open" marks the cool-down, "halfopen" marks that the
// breaker tripped and has not seen a success yet, "probe" serializes the
// single trial request in half-open, "failures" counts recent failures.

// allowScript decides whether a delivery may proceed. In half-open only
// one caller wins the probe slot until it expires.
var allowScript = redis.NewScript(`
	if redis.call('PTTL', KEYS[1]) > 0 then
		return {0, 'open'}
	end
	if redis.call('EXISTS', KEYS[2]) == 1 then
		if redis.call('SET', KEYS[3], '1', 'NX', 'PX', ARGV[1]) then
			return {1, 'half-open'}
		end
		return {0, 'half-open'}
	end
	return {1, 'closed'}
`)

// failureScript counts a failure and trips the breaker when the
// threshold is reached, or re-opens immediately after a failed probe.
var failureScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[2]) == 1 then
		redis.call('SET', KEYS[1], '1', 'PX', ARGV[2])
		redis.call('PEXPIRE', KEYS[2], ARGV[3])
		redis.call('DEL', KEYS[3], KEYS[4])
		return 'open'
	end
	local n = redis.call('INCR', KEYS[4])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[4], ARGV[1])
	end
	if n >= tonumber(ARGV[4]) then
		redis.call('SET', KEYS[1], '1', 'PX', ARGV[2])
		redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
		redis.call('DEL', KEYS[3], KEYS[4])
		return 'open'
	end
	return 'closed'
`)

type Breaker struct {
	client    *redis.Client
	threshold int
	window    time.Duration
	coolDown  time.Duration
}

func New(client *redis.Client, threshold int, window, coolDown time.Duration) *Breaker {
	return &Breaker{
		client:    client,
		threshold: threshold,
		window:    window,
		coolDown:  coolDown,
	}
}

func (b *Breaker) keys(target string) []string {
	prefix := "breaker:" + target + ":"
	return []string{prefix + "open", prefix + "halfopen", prefix + "probe", prefix + "failures"}
}

// halfOpenTTL bounds how long a tripped breaker is remembered without
// any success. Ten cool-down periods is plenty for a probe to land.
func (b *Breaker) halfOpenTTL() time.Duration {
	return 10 * b.coolDown
}

// Allow reports whether a delivery to target may proceed. A false
// result means the caller should record a failed attempt without
// performing the network call.
func (b *Breaker) Allow(ctx context.Context, target string) (bool, State, error) {
	result, err := allowScript.Run(ctx, b.client, b.keys(target), b.coolDown.Milliseconds()).Slice()
	if err != nil {
		return false, StateClosed, fmt.Errorf("breaker check failed: %w", err)
	}
	if len(result) != 2 {
		return false, StateClosed, fmt.Errorf("breaker check failed: unexpected reply %v", result)
	}

	allowed, _ := result[0].(int64)
	state := State(fmt.Sprint(result[1]))
	gaugeState(target, state)
	if allowed != 1 {
		metrics.BreakerShortCircuits.WithLabelValues(target).Inc()
		return false, state, nil
	}
	return true, state, nil
}

// RecordSuccess closes the breaker for target.
func (b *Breaker) RecordSuccess(ctx context.Context, target string) error {
	if err := b.client.Del(ctx, b.keys(target)...).Err(); err != nil {
		return fmt.Errorf("breaker reset failed: %w", err)
	}
	gaugeState(target, StateClosed)
	return nil
}

// RecordFailure counts a failed delivery and returns the resulting
// breaker state.
func (b *Breaker) RecordFailure(ctx context.Context, target string) (State, error) {
	result, err := failureScript.Run(ctx, b.client, b.keys(target),
		b.window.Milliseconds(), b.coolDown.Milliseconds(), b.halfOpenTTL().Milliseconds(), b.threshold,
	).Text()
	if err != nil {
		return StateClosed, fmt.Errorf("breaker record failed: %w", err)
	}
	state := State(result)
	gaugeState(target, state)
	return state, nil
}

func gaugeState(target string, state State) {
	var v float64
	switch state {
	case StateOpen:
		v = 2
	case StateHalfOpen:
		v = 1
	}
	metrics.BreakerState.WithLabelValues(target).Set(v)
}
