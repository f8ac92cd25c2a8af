package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockManager implements LockManager over "config-lock:*" keys on a
// dedicated Redis connection, kept separate from any subscriber client so
// lock traffic never competes with pub/sub delivery on the same
// connection.
type RedisLockManager struct {
	client *redis.Client
}

// NewRedisLockManager wraps a Redis client dedicated to config-lock
// bookkeeping.
func NewRedisLockManager(client *redis.Client) *RedisLockManager {
	return &RedisLockManager{client: client}
}

func lockKey(file string) string {
	return "config-lock:" + file
}

// TryLock acquires a time-bounded edit lock on file for holder, failing
// if another holder already owns it.
func (m *RedisLockManager) TryLock(file, holder string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	ok, err := m.client.SetNX(ctx, lockKey(file), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("admin: lock %s: %w", file, err)
	}
	return ok, nil
}

// Unlock removes the lock on file regardless of holder.
func (m *RedisLockManager) Unlock(file string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.client.Del(ctx, lockKey(file)).Err(); err != nil {
		return fmt.Errorf("admin: unlock %s: %w", file, err)
	}
	return nil
}

// Permalock sets an unexpiring lock on file attributed to user, used when
// an operator wants to pin exclusive ownership of a config file across
// gateway instances.
func (m *RedisLockManager) Permalock(file, user string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.client.Set(ctx, lockKey(file), user, 0).Err(); err != nil {
		return fmt.Errorf("admin: permalock %s: %w", file, err)
	}
	return nil
}

// ListLocks returns "file=holder" pairs for every currently held lock.
func (m *RedisLockManager) ListLocks() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	keys, err := m.client.Keys(ctx, "config-lock:*").Result()
	if err != nil {
		return "", fmt.Errorf("admin: list locks: %w", err)
	}
	if len(keys) == 0 {
		return "(none)", nil
	}

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		holder, err := m.client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		pairs = append(pairs, strings.TrimPrefix(key, "config-lock:")+"="+holder)
	}
	return strings.Join(pairs, ","), nil
}
