package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrLockHeld           = errors.New("lock_held")
	ErrLockNotConfigured  = errors.New("lock client not configured")
	errLockKeyEmpty       = errors.New("lock key is empty")
	errLockTTLNonPositive = errors.New("lock ttl must be positive")
)

// Only the holder's token may delete the key.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out redis-backed leases so that one replica at a time runs a
// scheduler job.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is a held lock. It expires on its own after the ttl passed to Acquire.
type Lease struct {
	Key   string
	Token string

	client *redis.Client
}

// Acquire returns ErrLockHeld when another holder owns key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockNotConfigured
	}
	if key == "" {
		return nil, errLockKeyEmpty
	}
	if ttl <= 0 {
		return nil, errLockTTLNonPositive
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{Key: key, Token: token, client: l.client}, nil
}

// Release is a no-op once the lease has expired or been taken over.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	return releaseLease.Run(ctx, l.client, []string{l.Key}, l.Token).Err()
}
