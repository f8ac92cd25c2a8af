package proxy

import "testing"

func TestTransportPoolReturnsDefaultForUnknownName(t *testing.T) {
	pool := NewTransportPool()
	if pool.Get("unknown") != pool.defaultTransport {
		t.Error("expected default transport for unregistered name")
	}
}

func TestTransportPoolReturnsNamedTransport(t *testing.T) {
	pool := NewTransportPool()
	pool.Set("upstream-a", DefaultTransportConfig)

	got := pool.Get("upstream-a")
	if got == pool.defaultTransport {
		t.Error("expected named transport to differ from default")
	}
	if pool.Get("upstream-b") != pool.defaultTransport {
		t.Error("expected default transport for a different unregistered name")
	}
}

func TestTransportPoolCloseIdleConnections(t *testing.T) {
	pool := NewTransportPool()
	pool.Set("upstream-a", DefaultTransportConfig)
	pool.CloseIdleConnections()
}
