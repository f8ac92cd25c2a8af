package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wudi/gateway/internal/config"
	"github.com/wudi/gateway/internal/router"
)

// dispatch runs req through a throwaway router registered with cfg.Route,
// so keyFilter sees path params the way it does in production (via
// router.PathParams, which reads httprouter's route match out of the
// request context) rather than a context built by hand.
func dispatch(t *testing.T, cfg *config.EndpointDescriptor, req *http.Request, fn func(r *http.Request)) {
	t.Helper()
	rt := router.New()
	rt.Handle(req.Method, cfg.Route, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(r)
	}))
	rt.ServeHTTP(httptest.NewRecorder(), req)
}

func TestKeyFilterNoKeysConfigured(t *testing.T) {
	cfg := &config.EndpointDescriptor{Route: "/widgets"}
	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	dispatch(t, cfg, req, func(r *http.Request) {
		_, ok := keyFilter(cfg, r)
		if ok {
			t.Error("expected no filter when the descriptor has no keys")
		}
	})
}

func TestKeyFilterAllKeysPresent(t *testing.T) {
	cfg := &config.EndpointDescriptor{Route: "/widgets/{id}", Keys: []string{"id"}}
	req := httptest.NewRequest(http.MethodGet, "/widgets/42", nil)
	dispatch(t, cfg, req, func(r *http.Request) {
		filter, ok := keyFilter(cfg, r)
		if !ok {
			t.Fatal("expected a filter match")
		}
		if filter["id"] != "42" {
			t.Errorf("expected id=42, got %v", filter["id"])
		}
	})
}

func TestKeyFilterMissingKey(t *testing.T) {
	// A composite key route where the path only supplies one of the two
	// configured keys (e.g. a bulk route dropping {itemId}) must not match
	// partially.
	cfg := &config.EndpointDescriptor{Route: "/orders/{id}", Keys: []string{"id", "itemId"}}
	req := httptest.NewRequest(http.MethodGet, "/orders/7", nil)
	dispatch(t, cfg, req, func(r *http.Request) {
		_, ok := keyFilter(cfg, r)
		if ok {
			t.Error("expected no filter match when a configured key is absent from the path")
		}
	})
}

func TestDecodeBodyEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/widgets", nil)
	body, err := decodeBody(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected an empty body map, got %v", body)
	}
}

func TestDecodeBodyInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader("not json"))
	req.ContentLength = int64(len("not json"))
	if _, err := decodeBody(req); err == nil {
		t.Error("expected an error decoding a non-JSON body")
	}
}

func TestDecodeBodyObject(t *testing.T) {
	payload := `{"name":"widget"}`
	req := httptest.NewRequest(http.MethodPost, "/widgets", strings.NewReader(payload))
	req.ContentLength = int64(len(payload))
	body, err := decodeBody(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["name"] != "widget" {
		t.Errorf("expected name=widget, got %v", body["name"])
	}
}

func TestReadOptionsFromQueryBuildsFilterFromAllowedParams(t *testing.T) {
	cfg := &config.EndpointDescriptor{AllowRead: []string{"stock", "name"}}
	req := httptest.NewRequest(http.MethodGet, "/products?stock=5&_sort=-stock&_limit=10&_page=2", nil)
	opts, err := readOptionsFromQuery(cfg, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Filter["stock"] != "5" {
		t.Errorf("expected stock=5 filter, got %v", opts.Filter)
	}
	if len(opts.Sort) != 1 || opts.Sort[0] != "-stock" {
		t.Errorf("expected sort=[-stock], got %v", opts.Sort)
	}
	if opts.Limit != 10 || opts.Page != 2 {
		t.Errorf("expected limit=10 page=2, got limit=%d page=%d", opts.Limit, opts.Page)
	}
}

func TestReadOptionsFromQueryRejectsUnknownField(t *testing.T) {
	cfg := &config.EndpointDescriptor{AllowRead: []string{"name"}}
	req := httptest.NewRequest(http.MethodGet, "/products?secret=1", nil)
	if _, err := readOptionsFromQuery(cfg, req); err == nil {
		t.Fatal("expected error for a filter field outside allowRead")
	}
}

func TestReadOptionsFromQueryHonorsFieldsParam(t *testing.T) {
	cfg := &config.EndpointDescriptor{AllowRead: []string{"name", "price"}}
	req := httptest.NewRequest(http.MethodGet, "/products?_fields=name,price", nil)
	opts, err := readOptionsFromQuery(cfg, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.Fields) != 2 || opts.Fields[0] != "name" || opts.Fields[1] != "price" {
		t.Errorf("expected fields=[name price], got %v", opts.Fields)
	}
}

func TestCacheKeyForIncludesQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/widgets?page=2", nil)
	a := cacheKeyFor("/widgets", req)
	b := cacheKeyFor("/widgets", httptest.NewRequest(http.MethodGet, "/widgets?page=3", nil))
	if a == b {
		t.Error("expected distinct query strings to produce distinct cache keys")
	}
}
