// Package idempotency tracks which outbox events a Pub/Sub consumer has
// handled. A claim is a short lease while the handler runs and becomes a
// long-lived "done" mark on completion, so a worker that dies mid-event
// leaves it to be redelivered instead of silently dropped.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketcore-backend/pkg/redis"
)

const (
	markProcessing = "processing"
	markDone       = "done"

	defaultLease = 5 * time.Minute
)

// Claim is the outcome of trying to take an event.
type Claim int

const (
	// Claimed means the caller owns the event and must Complete or Release it.
	Claimed Claim = iota
	// AlreadyDone means an earlier delivery finished; ack and move on.
	AlreadyDone
	// InProgress means another delivery holds the lease; nack to see it again.
	InProgress
)

func (c Claim) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case AlreadyDone:
		return "already_done"
	case InProgress:
		return "in_progress"
	}
	return "unknown"
}

// Manager keys marks as `mc:idempotency:evt:processed:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
}

type Option func(*Manager)

// WithLease bounds how long a crashed handler blocks redelivery.
func WithLease(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lease = d
		}
	}
}

// NewManager builds a guard whose done marks expire after ttl (zero keeps
// them forever).
func NewManager(store redis.IdempotencyStore, ttl time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	m := &Manager{store: store, ttl: ttl, lease: defaultLease}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Claim, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return 0, err
	}
	won, err := m.store.SetNX(ctx, key, markProcessing, m.lease)
	if err != nil {
		return 0, err
	}
	if won {
		return Claimed, nil
	}
	current, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// Lease lapsed between the two calls.
		return InProgress, nil
	case err != nil:
		return 0, err
	case current == markDone:
		return AlreadyDone, nil
	}
	return InProgress, nil
}

// Complete turns a claim into a done mark that lives for the manager's ttl.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, markDone, m.ttl)
}

// Release drops a claim so the next delivery runs the handler again.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey(fmt.Sprintf("evt:processed:%s", consumer), eventID.String()), nil
}
