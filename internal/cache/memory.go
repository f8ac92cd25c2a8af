package cache

import (
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU cache implementing Store, used for
// every cached route when no Redis client was configured.
type MemoryStore struct {
	lru       *expirable.LRU[string, *Entry]
	evictions atomic.Int64
	maxSize   int
}

// NewMemoryStore creates an in-memory LRU store with the given capacity
// and TTL. ttl governs the LRU's own expiry; callers additionally check
// Entry.IsExpired so a per-entry TTL override still takes effect.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	s := &MemoryStore{maxSize: maxSize}
	s.lru = expirable.NewLRU[string, *Entry](maxSize, func(key string, value *Entry) {
		s.evictions.Add(1)
	}, ttl)
	return s
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	return s.lru.Get(key)
}

func (s *MemoryStore) Set(key string, entry *Entry) {
	s.lru.Add(key, entry)
}

func (s *MemoryStore) Delete(key string) {
	s.lru.Remove(key)
}

func (s *MemoryStore) Purge() {
	s.lru.Purge()
}

func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{
		Size:      s.lru.Len(),
		MaxSize:   s.maxSize,
		Evictions: s.evictions.Load(),
	}
}
