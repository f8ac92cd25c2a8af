package proxy

import (
	"net"
	"net/http"
	"time"
)

// TransportConfig configures the pooled HTTP transport used to reach
// upstreams for routeType "proxy" endpoints.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration

	DisableKeepAlives bool
}

// DefaultTransportConfig provides sensible defaults for a single gateway
// process forwarding to a handful of upstreams.
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	DialTimeout:           10 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: time.Second,
}

// NewTransport builds an *http.Transport from cfg.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
	}
}

// DefaultTransport returns a transport built from DefaultTransportConfig.
func DefaultTransport() *http.Transport {
	return NewTransport(DefaultTransportConfig)
}

// TransportPool hands out a shared transport per upstream host, so
// connection pools aren't rebuilt on every request or config reload of
// unrelated routes.
type TransportPool struct {
	defaultTransport http.RoundTripper
	transports       map[string]http.RoundTripper
}

// NewTransportPool creates a pool backed by the default transport config.
func NewTransportPool() *TransportPool {
	return &TransportPool{
		defaultTransport: DefaultTransport(),
		transports:       make(map[string]http.RoundTripper),
	}
}

// Get returns the transport registered for name, or the pool's default.
func (tp *TransportPool) Get(name string) http.RoundTripper {
	if name != "" {
		if t, ok := tp.transports[name]; ok {
			return t
		}
	}
	return tp.defaultTransport
}

// Set installs a transport built from cfg for the given upstream name.
func (tp *TransportPool) Set(name string, cfg TransportConfig) {
	tp.transports[name] = NewTransport(cfg)
}

// CloseIdleConnections closes idle connections on every pooled transport,
// called during shutdown and before a transport is replaced on reload.
func (tp *TransportPool) CloseIdleConnections() {
	closeIdle(tp.defaultTransport)
	for _, t := range tp.transports {
		closeIdle(t)
	}
}

func closeIdle(rt http.RoundTripper) {
	if t, ok := rt.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}
