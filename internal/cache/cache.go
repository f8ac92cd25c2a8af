package cache

import (
	"net/http"
	"time"
)

// Entry represents a cached response body for one canonical request key.
type Entry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	StoredAt   time.Time
	TTL        time.Duration
}

// IsExpired reports whether the entry has outlived its TTL.
func (e *Entry) IsExpired() bool {
	return time.Since(e.StoredAt) > e.TTL
}
