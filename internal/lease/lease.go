// Package lease hands out short-lived delivery leases on events so that
// at most one dispatcher works an event at a time.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript only deletes the lease when the caller still owns it,
// so a worker that outlived its TTL cannot release someone else's lease.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

type Lease struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Lease {
	return &Lease{client: client, ttl: ttl}
}

// Acquire claims the event for owner. Returns false when another worker
// holds the lease.
func (l *Lease) Acquire(ctx context.Context, eventID, owner string) (bool, error) {
	ok, err := l.client.SetNX(ctx, "lease:event:"+eventID, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire failed: %w", err)
	}
	return ok, nil
}

// Release gives the lease back if owner still holds it.
func (l *Lease) Release(ctx context.Context, eventID, owner string) error {
	err := releaseScript.Run(ctx, l.client, []string{"lease:event:" + eventID}, owner).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lease release failed: %w", err)
	}
	return nil
}

// Extend pushes the expiry out for a worker still mid-delivery.
func (l *Lease) Extend(ctx context.Context, eventID, owner string) (bool, error) {
	extended, err := redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('PEXPIRE', KEYS[1], ARGV[2])
		end
		return 0
	`).Run(ctx, l.client, []string{"lease:event:" + eventID}, owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("lease extend failed: %w", err)
	}
	return extended == 1, nil
}
