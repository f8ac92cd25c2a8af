package cache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/gateway/internal/byroute"
	"github.com/wudi/gateway/internal/config"
)

// CanonicalKey builds the cache key for a database route GET request:
// the route name followed by its query string with parameters sorted by
// name, so "?b=2&a=1" and "?a=1&b=2" hit the same entry.
func CanonicalKey(route string, query url.Values) string {
	if len(query) == 0 {
		return route
	}
	names := make([]string, 0, len(query))
	for k := range query {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(route)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		vals := append([]string(nil), query[name]...)
		sort.Strings(vals)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}

// Handler manages read-through caching for a single database route.
// Writes never invalidate proactively — staleness is governed purely by
// TTL — but a caller can force eviction of a key via Invalidate.
type Handler struct {
	store Store
	ttl   time.Duration
}

// NewHandler creates a cache handler with the given store and TTL.
func NewHandler(store Store, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Handler{store: store, ttl: ttl}
}

// Get retrieves a cached response by its canonical key.
func (h *Handler) Get(key string) (*Entry, bool) {
	e, ok := h.store.Get(key)
	if !ok || e.IsExpired() {
		return nil, false
	}
	return e, true
}

// Store saves a response under its canonical key.
func (h *Handler) Store(key string, statusCode int, headers http.Header, body []byte) {
	h.store.Set(key, &Entry{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		StoredAt:   time.Now(),
		TTL:        h.ttl,
	})
}

// Invalidate evicts a single canonical key before its TTL runs out. No
// admin command calls it.
func (h *Handler) Invalidate(key string) {
	h.store.Delete(key)
}

// Purge clears every entry for this route.
func (h *Handler) Purge() {
	h.store.Purge()
}

// Stats reports the backing store's size/eviction counters.
func (h *Handler) Stats() StoreStats {
	return h.store.Stats()
}

// CacheByRoute manages one Handler per route ID that has caching enabled.
type CacheByRoute struct {
	byroute.Manager[*Handler]
	mu          sync.RWMutex
	redisClient *redis.Client
}

// NewCacheByRoute creates a route-keyed cache manager. redisClient may be
// nil; every route then uses an in-process store.
func NewCacheByRoute(redisClient *redis.Client) *CacheByRoute {
	return &CacheByRoute{redisClient: redisClient}
}

// SetRedisClient installs (or replaces) the shared Redis client used by
// routes added after this call.
func (cbr *CacheByRoute) SetRedisClient(client *redis.Client) {
	cbr.mu.Lock()
	cbr.redisClient = client
	cbr.mu.Unlock()
}

// AddRoute installs a cache handler for routeID per its descriptor's
// Cache settings. A TTLSeconds of 0 means the route has caching
// disabled and no handler is installed.
func (cbr *CacheByRoute) AddRoute(routeID string, cfg config.Cache) {
	if cfg.TTLSeconds <= 0 {
		return
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	cbr.mu.RLock()
	client := cbr.redisClient
	cbr.mu.RUnlock()

	var store Store
	if client != nil {
		store = NewRedisStore(client, "gw:cache:"+routeID+":", ttl)
	} else {
		store = NewMemoryStore(1000, ttl)
	}
	cbr.Add(routeID, NewHandler(store, ttl))
}

// GetHandler returns the cache handler for a route, if caching is
// enabled for it.
func (cbr *CacheByRoute) GetHandler(routeID string) *Handler {
	v, _ := cbr.Get(routeID)
	return v
}

// PurgeRoute clears a route's cache. Returns false if the route has no
// cache handler.
func (cbr *CacheByRoute) PurgeRoute(routeID string) bool {
	h := cbr.GetHandler(routeID)
	if h == nil {
		return false
	}
	h.Purge()
	return true
}

// InvalidateKey evicts one canonical key from a route's cache. Returns
// false if the route has no cache handler.
func (cbr *CacheByRoute) InvalidateKey(routeID, key string) bool {
	h := cbr.GetHandler(routeID)
	if h == nil {
		return false
	}
	h.Invalidate(key)
	return true
}

// PurgeAll clears every route's cache. The admin plane has no purge
// command, and its configReload does not call PurgeAll.
func (cbr *CacheByRoute) PurgeAll() {
	cbr.Range(func(_ string, h *Handler) bool {
		h.Purge()
		return true
	})
}

// Stats reports per-route cache statistics.
func (cbr *CacheByRoute) Stats() map[string]StoreStats {
	result := make(map[string]StoreStats)
	cbr.Range(func(id string, h *Handler) bool {
		result[id] = h.Stats()
		return true
	})
	return result
}
