package cache

import (
	"testing"
	"time"
)

func TestEntryIsExpired(t *testing.T) {
	e := &Entry{StoredAt: time.Now(), TTL: 50 * time.Millisecond}
	if e.IsExpired() {
		t.Fatal("fresh entry reported expired")
	}
	e.StoredAt = time.Now().Add(-100 * time.Millisecond)
	if !e.IsExpired() {
		t.Fatal("stale entry not reported expired")
	}
}
