package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProxyForwardsAndStripsRoutePrefix(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"path": r.URL.Path,
		})
	}))
	defer backend.Close()

	p := New(Config{})
	handler, err := p.Handler("/api", backend.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/users/42", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["path"] != "/users/42" {
		t.Errorf("expected stripped path /users/42, got %q", body["path"])
	}
}

func TestProxyForwardsXForwardedHeaders(t *testing.T) {
	var gotXFF, gotXFProto string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotXFProto = r.Header.Get("X-Forwarded-Proto")
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	p := New(Config{})
	handler, err := p.Handler("/svc", backend.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/svc/ping", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if gotXFF != "10.0.0.5" {
		t.Errorf("expected X-Forwarded-For 10.0.0.5, got %q", gotXFF)
	}
	if gotXFProto != "http" {
		t.Errorf("expected X-Forwarded-Proto http, got %q", gotXFProto)
	}
}

func TestProxyUpstreamUnreachable(t *testing.T) {
	p := New(Config{})
	handler, err := p.Handler("/x", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/x", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unreachable upstream, got %d", rr.Code)
	}
}

func TestProxyCircuitBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	p := New(Config{})
	handler, err := p.Handler("/flaky", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/flaky", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("request %d: expected 500 from the unreachable upstream, got %d", i, rr.Code)
		}
	}

	req := httptest.NewRequest("GET", "/flaky", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected the breaker to be open after 5 consecutive failures, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestStripRoutePath(t *testing.T) {
	cases := []struct{ routePath, reqPath, want string }{
		{"/api", "/api/users", "/users"},
		{"/api/orders/{id}", "/api/orders/7", "/7"},
		{"/api", "/api", "/"},
	}
	for _, c := range cases {
		if got := stripRoutePath(c.routePath, c.reqPath); got != c.want {
			t.Errorf("stripRoutePath(%q, %q) = %q, want %q", c.routePath, c.reqPath, got, c.want)
		}
	}
}
