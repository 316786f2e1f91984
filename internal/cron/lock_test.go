package cron

import (
	"context"
	"strings"
	"testing"
	"time"
)

type memoryLockStore struct {
	values map[string]string
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if m.values[key] != value {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLockStore) LockKey(name string) string { return "gl:lock:" + name }

func TestRedisLockExclusiveAcrossReplicas(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	a, err := NewRedisLock(store, "cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	b, _ := NewRedisLock(store, "cron", time.Minute)
	ctx := context.Background()

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("second replica must not acquire")
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if _, ok := store.values["gl:lock:cron"]; !ok {
		t.Fatal("non-owner release removed the lock")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("expected lock to be free after release")
	}
	if !strings.HasPrefix(store.values["gl:lock:cron"], b.holder+"/") {
		t.Fatalf("token should name the holder, got %q", store.values["gl:lock:cron"])
	}
}

func TestRedisLockDoesNotReleaseTakenOverLock(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	lock, _ := NewRedisLock(store, "cron", time.Minute)
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	store.values["gl:lock:cron"] = "other-host/123"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["gl:lock:cron"] != "other-host/123" {
		t.Fatal("lock owned by another holder was deleted")
	}
}
