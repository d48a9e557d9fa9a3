// Package leaselock provides a Redis-backed lease that keeps two payout
// drivers from ever running against the same funding account. The lease is
// advisory: it enforces deployment discipline, it does not coordinate state.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotAcquired means another process holds the lease.
	ErrNotAcquired = errors.New("lease held by another process")
	// ErrLost means the lease expired or was taken over; the holder must stop.
	ErrLost = errors.New("lease lost")
)

// refreshScript extends the lease only if we still hold it.
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only if we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lease is a held lock. Keep must run for the lease to outlive its TTL.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes the lease for key, or returns ErrNotAcquired if another
// holder exists. Key should identify the guarded resource, e.g. the funding
// address.
func Acquire(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{rdb: rdb, key: key, token: token, ttl: ttl}, nil
}

// Keep refreshes the lease at half its TTL until ctx is cancelled. It returns
// ErrLost if the lease was taken over, or ctx.Err on cancellation.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			held, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			if err != nil {
				// transient Redis fault; the TTL gives us slack to retry
				continue
			}
			if held == 0 {
				return ErrLost
			}
		}
	}
}

// Release drops the lease if we still hold it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
