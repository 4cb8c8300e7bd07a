package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

type memoryStore struct {
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", errors.New("nil")
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = "1"
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "1"
	return true, nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "sf:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestManagerMarkAndCheck(t *testing.T) {
	store := newMemoryStore()
	mgr, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()

	seen, err := mgr.IsProcessed(ctx, "gateway-webhook", "ref-1:charge.success")
	if err != nil || seen {
		t.Fatalf("expected unseen key, seen=%v err=%v", seen, err)
	}
	if err := mgr.MarkProcessed(ctx, "gateway-webhook", "ref-1:charge.success"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, ok := store.data["sf:idempotency:processed:gateway-webhook:ref-1:charge.success"]; !ok {
		t.Fatalf("unexpected key layout: %v", store.data)
	}
	seen, err = mgr.IsProcessed(ctx, "gateway-webhook", "ref-1:charge.success")
	if err != nil || !seen {
		t.Fatalf("expected processed key, seen=%v err=%v", seen, err)
	}
	if err := mgr.Delete(ctx, "gateway-webhook", "ref-1:charge.success"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	seen, _ = mgr.IsProcessed(ctx, "gateway-webhook", "ref-1:charge.success")
	if seen {
		t.Fatalf("expected key to be forgotten")
	}
}

func TestManagerValidation(t *testing.T) {
	if _, err := NewManager(nil, time.Hour); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewManager(newMemoryStore(), -time.Second); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	mgr, _ := NewManager(newMemoryStore(), time.Hour)
	if err := mgr.MarkProcessed(context.Background(), "", "k"); err == nil {
		t.Fatalf("expected error for empty consumer")
	}
	if _, err := mgr.IsProcessed(context.Background(), "c", " "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
