package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/redis"
	"github.com/google/uuid"
)

// Lock is a best-effort distributed mutex so only one recovery-worker
// replica sweeps at a time. The TTL bounds how long a crashed holder can
// block the next pass.
type Lock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
}

// NewLock wires the recovery run lock.
func NewLock(client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if key == "" {
		return nil, fmt.Errorf("lock key required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Lock{
		client: client,
		key:    key,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}, nil
}

// Acquire attempts to take the lock. false means another replica holds it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.owner, l.ttl)
}

// Release frees the lock, but only if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if value != l.owner {
		return nil
	}
	return l.client.Del(ctx, l.key)
}
