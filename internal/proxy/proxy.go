// Package proxy forwards requests matched to a routeType "proxy" endpoint
// descriptor to its configured upstream.
package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/metrics"
)

// Proxy forwards requests to upstreams, sharing a pooled transport across
// every proxy-type route. Each route gets its own circuit breaker, keyed
// by route path, so a failing upstream trips only the routes pointed at
// it rather than every proxy route in the process.
type Proxy struct {
	transportPool  *TransportPool
	defaultTimeout time.Duration
	metrics        *metrics.Collector

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// Config holds proxy-wide settings.
type Config struct {
	TransportPool  *TransportPool
	DefaultTimeout time.Duration
	Metrics        *metrics.Collector
}

// New creates a Proxy.
func New(cfg Config) *Proxy {
	pool := cfg.TransportPool
	if pool == nil {
		pool = NewTransportPool()
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}
	return &Proxy{
		transportPool:  pool,
		defaultTimeout: timeout,
		metrics:        m,
		breakers:       make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// breakerFor returns the circuit breaker for routePath, creating it (and
// reporting state transitions to p.metrics) on first use. Five
// consecutive failures (a success resets the count) trip the breaker open
// for 30s before it probes the upstream again with a single half-open
// request.
func (p *Proxy) breakerFor(routePath string) *gobreaker.CircuitBreaker[*http.Response] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, ok := p.breakers[routePath]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        routePath,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.metrics.SetCircuitBreakerState(name, int(to))
		},
	})
	p.breakers[routePath] = cb
	return cb
}

// SetTransportPool replaces the transport pool, used during config reload
// so in-flight requests against the old pool finish against transports
// that are still live.
func (p *Proxy) SetTransportPool(pool *TransportPool) {
	p.transportPool = pool
}

// Handler returns an http.Handler that forwards every request it receives
// to upstreamURL, preserving the portion of the path past routePath.
func (p *Proxy) Handler(routePath, upstreamURL string) (http.Handler, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	transport := p.transportPool.Get(target.Host)
	breaker := p.breakerFor(routePath)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.defaultTimeout)
			defer cancel()
		}

		proxyReq := p.createProxyRequest(ctx, r, target, routePath)
		resp, err := breaker.Execute(func() (*http.Response, error) {
			return transport.RoundTrip(proxyReq)
		})
		if err != nil {
			p.metrics.SetBackendHealth(routePath, target.Host, false)
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				gatewayerrors.New(http.StatusServiceUnavailable, "upstream circuit breaker open").WriteJSON(w)
				return
			}
			p.handleError(w, err)
			return
		}
		p.metrics.SetBackendHealth(routePath, target.Host, true)
		defer resp.Body.Close()

		p.copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}), nil
}

func (p *Proxy) createProxyRequest(ctx context.Context, r *http.Request, target *url.URL, routePath string) *http.Request {
	targetURL := *target
	targetURL.Path = singleJoiningSlash(target.Path, stripRoutePath(routePath, r.URL.Path))
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	proxyReq.Header = make(http.Header, len(r.Header)+3)
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if clientIP := clientIPOf(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)
	return proxyReq
}

func clientIPOf(r *http.Request) string {
	host, _, err := splitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitHostPort(addr string) (string, string, error) {
	idx := strings.LastIndex(addr, ":")
	if idx == -1 {
		return addr, "", nil
	}
	return addr[:idx], addr[idx+1:], nil
}

func (p *Proxy) handleError(w http.ResponseWriter, err error) {
	if err == context.DeadlineExceeded {
		gatewayerrors.InternalErr("upstream timed out").WriteJSON(w)
		return
	}
	gatewayerrors.InternalErr("upstream request failed: " + err.Error()).WriteJSON(w)
}

func (p *Proxy) copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// stripRoutePath removes the literal, non-parameterized prefix the route
// was registered under, leaving the remainder to be joined onto the
// upstream's own path. Routes with {name} path parameters keep the
// resolved segments, since the upstream may expect them in its own path.
func stripRoutePath(routePath, requestPath string) string {
	prefix := strings.SplitN(routePath, "{", 2)[0]
	prefix = strings.TrimSuffix(prefix, "/")
	suffix := strings.TrimPrefix(requestPath, prefix)
	if suffix == "" {
		return "/"
	}
	if !strings.HasPrefix(suffix, "/") {
		return "/" + suffix
	}
	return suffix
}
