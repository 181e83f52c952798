package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

func seedDeadLetter(t *testing.T, dlq *DLQRepository, events *Repository, reason string, failedAt time.Time) models.OutboxEvent {
	t.Helper()
	msg := "boom"
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		AttemptCount:  5,
		LastError:     &msg,
	}
	require.NoError(t, events.Insert(events.db, event))
	require.NoError(t, dlq.InsertTx(dlq.db, models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      failedAt,
	}))
	return event
}

func TestDLQListFiltersByReason(t *testing.T) {
	conn, _ := dbtest.Open(t, &models.OutboxEvent{}, &models.OutboxDLQ{})
	dlq, events := NewDLQRepository(conn), NewRepository(conn)
	now := time.Now().UTC()
	older := seedDeadLetter(t, dlq, events, DLQReasonMaxAttempts, now.Add(-time.Hour))
	newer := seedDeadLetter(t, dlq, events, DLQReasonMaxAttempts, now)
	seedDeadLetter(t, dlq, events, DLQReasonNonRetryable, now)

	rows, err := dlq.List(context.Background(), DLQReasonMaxAttempts, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].EventID)
	assert.Equal(t, older.ID, rows[1].EventID)

	all, err := dlq.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDLQRequeueResetsAttempts(t *testing.T) {
	conn, _ := dbtest.Open(t, &models.OutboxEvent{}, &models.OutboxDLQ{})
	dlq, events := NewDLQRepository(conn), NewRepository(conn)
	event := seedDeadLetter(t, dlq, events, DLQReasonNonRetryable, time.Now().UTC())

	require.NoError(t, dlq.Requeue(context.Background(), event.ID))

	var reloaded models.OutboxEvent
	require.NoError(t, conn.First(&reloaded, "id = ?", event.ID).Error)
	assert.Zero(t, reloaded.AttemptCount)
	assert.Nil(t, reloaded.LastError)

	left, err := dlq.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	err = dlq.Requeue(context.Background(), event.ID)
	assert.True(t, errors.Is(err, ErrNotDeadLettered))
}

func TestTruncateDLQErrorKeepsRunes(t *testing.T) {
	msg := strings.Repeat("a", maxDLQErrorLen-1) + "é"
	got := truncateDLQError(msg)
	assert.Equal(t, maxDLQErrorLen-1, len(got))
	assert.Equal(t, "short", truncateDLQError("short"))
}
