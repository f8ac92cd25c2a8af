package cache

import (
	"net/url"
	"testing"
	"time"

	"github.com/wudi/gateway/internal/config"
)

func TestCanonicalKeyOrderingIndependent(t *testing.T) {
	a := CanonicalKey("users", url.Values{"b": {"2"}, "a": {"1"}})
	b := CanonicalKey("users", url.Values{"a": {"1"}, "b": {"2"}})
	if a != b {
		t.Fatalf("expected stable key regardless of query order, got %q vs %q", a, b)
	}
}

func TestCanonicalKeyNoQuery(t *testing.T) {
	if got := CanonicalKey("users", nil); got != "users" {
		t.Fatalf("expected bare route name, got %q", got)
	}
}

func TestHandlerStoreAndGet(t *testing.T) {
	h := NewHandler(NewMemoryStore(10, time.Minute), time.Minute)

	key := CanonicalKey("users", url.Values{"id": {"1"}})
	if _, ok := h.Get(key); ok {
		t.Fatal("expected miss before store")
	}

	h.Store(key, 200, nil, []byte(`{"id":1}`))
	entry, ok := h.Get(key)
	if !ok {
		t.Fatal("expected hit after store")
	}
	if entry.StatusCode != 200 || string(entry.Body) != `{"id":1}` {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	h.Invalidate(key)
	if _, ok := h.Get(key); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestCacheByRouteDisabledWhenTTLZero(t *testing.T) {
	cbr := NewCacheByRoute(nil)
	cbr.AddRoute("users.get", config.Cache{TTLSeconds: 0})
	if h := cbr.GetHandler("users.get"); h != nil {
		t.Fatal("expected no handler installed for zero TTL")
	}
}

func TestCacheByRoutePurgeAll(t *testing.T) {
	cbr := NewCacheByRoute(nil)
	cbr.AddRoute("users.get", config.Cache{TTLSeconds: 30})

	h := cbr.GetHandler("users.get")
	if h == nil {
		t.Fatal("expected handler installed")
	}
	key := CanonicalKey("users.get", nil)
	h.Store(key, 200, nil, []byte("ok"))

	cbr.PurgeAll()
	if _, ok := h.Get(key); ok {
		t.Fatal("expected entry purged")
	}
}
