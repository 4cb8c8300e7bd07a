// Package idempotency records which externally delivered messages have
// already been handled, as a fast path in front of the database dedup log.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Manager tracks processed message keys per consumer in Redis.
// Keys follow the `sf:idempotency:processed:<consumer>:<key>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a tracker that remembers processed keys for ttl.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// IsProcessed reports whether key was marked for consumer.
func (m *Manager) IsProcessed(ctx context.Context, consumer, key string) (bool, error) {
	k, err := m.processedKey(consumer, key)
	if err != nil {
		return false, err
	}
	return m.store.Exists(ctx, k)
}

// MarkProcessed records key for consumer. Callers only mark after the
// underlying state change committed.
func (m *Manager) MarkProcessed(ctx context.Context, consumer, key string) error {
	k, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, k, "1", m.ttl)
}

// Delete forgets key for consumer.
func (m *Manager) Delete(ctx context.Context, consumer, key string) error {
	k, err := m.processedKey(consumer, key)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, k)
}

func (m *Manager) processedKey(consumer, key string) (string, error) {
	if strings.TrimSpace(consumer) == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("message key is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("processed:%s", consumer), key), nil
}
