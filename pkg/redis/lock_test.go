package redis

import (
	"context"
	"testing"
	"time"
)

type fakeLockStore struct {
	values map[string]string
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{values: map[string]string{}}
}

func (f *fakeLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := f.values[key]; exists {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

// Eval mimics the server-side compare-and-delete the release script does.
func (f *fakeLockStore) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	key := keys[0]
	if f.values[key] != args[0].(string) {
		return int64(0), nil
	}
	delete(f.values, key)
	return int64(1), nil
}

func TestRedisLockAcquireIsExclusive(t *testing.T) {
	store := newFakeLockStore()
	ctx := context.Background()

	first, err := NewRedisLock(store, "sc:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, err := NewRedisLock(store, "sc:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to fail while lock held")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseOnlyClearsOwnValue(t *testing.T) {
	store := newFakeLockStore()
	ctx := context.Background()

	stale, err := NewRedisLock(store, "sc:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if ok, err := stale.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// TTL lapsed elsewhere and another holder took over
	store.values["sc:lock:test"] = "someone-else"

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["sc:lock:test"] != "someone-else" {
		t.Fatalf("stale holder cleared a lock it no longer owned")
	}
}

func TestRedisLockReleaseWithoutAcquireIsNoop(t *testing.T) {
	store := newFakeLockStore()
	lock, err := NewRedisLock(store, "sc:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
}
