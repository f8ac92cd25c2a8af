package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/logging"
)

func init() {
	gob.Register(http.Header{})
}

// RedisStore is a Redis-backed cache store implementing Store, used for
// every cached route once a Redis client is configured, so entries are shared
// across gateway instances. Failures are logged and treated as a cache
// miss/no-op rather than surfaced to the caller: caching is always a
// fail-open optimization, never a dependency the request path can block
// on.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. prefix should include the
// route ID, e.g. "gw:cache:myroute:".
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Get(key string) (*Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logging.Warn("redis cache get failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entry); err != nil {
		logging.Warn("redis cache decode failed, treating as miss", zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (s *RedisStore) Set(key string, entry *Entry) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		logging.Warn("redis cache encode failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, buf.Bytes(), s.ttl).Err(); err != nil {
		logging.Warn("redis cache set failed", zap.Error(err))
	}
}

func (s *RedisStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		logging.Warn("redis cache delete failed", zap.Error(err))
	}
}

func (s *RedisStore) Purge() {
	s.scanAndDelete(s.prefix)
}

func (s *RedisStore) scanAndDelete(pattern string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern+"*", 100).Result()
		if err != nil {
			logging.Warn("redis cache scan failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				logging.Warn("redis cache bulk delete failed", zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
}

func (s *RedisStore) Stats() StoreStats {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var count int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			logging.Warn("redis cache stats scan failed", zap.Error(err))
			return StoreStats{}
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return StoreStats{Size: count}
}
