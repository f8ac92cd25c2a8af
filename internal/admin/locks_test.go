package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newLockTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockManagerTryLockAndUnlock(t *testing.T) {
	client := newLockTestClient(t)
	m := NewRedisLockManager(client)
	file := "test-" + t.Name() + ".yaml"
	t.Cleanup(func() { m.Unlock(file) })

	ok, err := m.TryLock(file, "alice", time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok {
		t.Fatal("expected first TryLock to succeed")
	}

	ok, err = m.TryLock(file, "bob", time.Minute)
	if err != nil {
		t.Fatalf("TryLock (second): %v", err)
	}
	if ok {
		t.Fatal("expected second TryLock by a different holder to fail")
	}

	if err := m.Unlock(file); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	ok, err = m.TryLock(file, "bob", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected TryLock to succeed after Unlock, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockManagerPermalockAndListLocks(t *testing.T) {
	client := newLockTestClient(t)
	m := NewRedisLockManager(client)
	file := "perma-" + t.Name() + ".yaml"
	t.Cleanup(func() { m.Unlock(file) })

	if err := m.Permalock(file, "carol"); err != nil {
		t.Fatalf("Permalock: %v", err)
	}

	out, err := m.ListLocks()
	if err != nil {
		t.Fatalf("ListLocks: %v", err)
	}
	if !strings.Contains(out, file+"=carol") {
		t.Errorf("ListLocks = %q, want to contain %q", out, file+"=carol")
	}
}
