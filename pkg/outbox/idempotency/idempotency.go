package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hostelsync/hostelsync-backend/pkg/redis"
)

// Manager tracks processed event IDs for one consumer using Redis SETNX with a TTL.
// Keys follow the `hs:idempotency:evt:processed:<consumer>:<event_id>` pattern.
type Manager struct {
	store    redis.IdempotencyStore
	consumer string
	ttl      time.Duration
}

func NewManager(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, consumer: consumer, ttl: ttl}, nil
}

// Claim marks the event as processed and reports false if another delivery already did.
func (m *Manager) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	key, err := m.processedKey(eventID)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, "1", m.ttl)
}

// Release forgets a claim so a redelivery can retry the event.
func (m *Manager) Release(ctx context.Context, eventID uuid.UUID) error {
	key, err := m.processedKey(eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(eventID uuid.UUID) (string, error) {
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:processed:%s", m.consumer), eventID.String()), nil
}
