package lockx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable means the lock is currently held by someone else.
// Contention is expected; callers fail fast or retry with their own backoff.
var ErrUnavailable = errors.New("lock unavailable")

// Key builds the canonical lock key: lock:<resourceType>:<resourceId>.
func Key(resourceType, resourceID string) string {
	return fmt.Sprintf("lock:%s:%s", resourceType, resourceID)
}

func ProductKey(productID string) string { return Key("product", productID) }
func OrderKey(orderID string) string     { return Key("order", orderID) }

// Provider is an atomic mutual-exclusion primitive with TTL. A crashed
// holder's lock self-heals via expiry; Release only deletes when the owner
// token still matches, so an expired-and-reacquired lock is never stolen.
type Provider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// RedisProvider implements Provider on a single Redis instance using
// SET NX PX for acquire and a compare-and-delete script for release.
type RedisProvider struct {
	RDB *redis.Client
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (p *RedisProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := p.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (p *RedisProvider) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, p.RDB, []string{key}, token).Err()
}

// Manager wraps a Provider with the configured default TTL and the
// run-under-lock helper used by the fulfillment service.
type Manager struct {
	Provider Provider
	TTL      time.Duration
}

// WithLock acquires key, runs fn, and releases on every exit path including
// panics. Acquisition failure returns ErrUnavailable without running fn.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	token, ok, err := m.Provider.Acquire(ctx, key, m.TTL)
	if err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnavailable, key)
	}
	defer func() {
		// Release must not depend on the caller's context still being live.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Provider.Release(rctx, key, token)
	}()
	return fn(ctx)
}
