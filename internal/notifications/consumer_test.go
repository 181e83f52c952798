package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/registry"
)

// memoryMarker maps event IDs to whether their handler finished.
type memoryMarker struct {
	seen     map[uuid.UUID]bool
	released int
	err      error
}

func (m *memoryMarker) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Claim, error) {
	if m.err != nil {
		return 0, m.err
	}
	done, ok := m.seen[eventID]
	switch {
	case !ok:
		m.seen[eventID] = false
		return idempotency.Claimed, nil
	case done:
		return idempotency.AlreadyDone, nil
	}
	return idempotency.InProgress, nil
}

func (m *memoryMarker) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	m.seen[eventID] = true
	return nil
}

func (m *memoryMarker) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	delete(m.seen, eventID)
	m.released++
	return nil
}

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

type consumerFixture struct {
	db       *gorm.DB
	consumer *Consumer
	marker   *memoryMarker
	sender   *recordingSender
	merchant uuid.UUID
	store    uuid.UUID
}

func newConsumerFixture(t *testing.T) *consumerFixture {
	t.Helper()
	conn, _ := dbtest.Open(t, &models.Merchant{}, &models.Store{}, &models.Notification{})
	merchant := models.Merchant{ID: uuid.New(), OwnerUserID: uuid.New(), Email: "shop@example.com"}
	require.NoError(t, conn.Create(&merchant).Error)
	store := models.Store{ID: uuid.New(), MerchantID: merchant.ID, Name: "Corner Shop"}
	require.NoError(t, conn.Create(&store).Error)

	reg, err := registry.NewEventRegistry(config.PubSubConfig{OrdersTopic: "orders", LedgerTopic: "ledger", PaymentsTopic: "payments"})
	require.NoError(t, err)

	f := &consumerFixture{
		db:       conn,
		marker:   &memoryMarker{seen: map[uuid.UUID]bool{}},
		sender:   &recordingSender{},
		merchant: merchant.ID,
		store:    store.ID,
	}
	f.consumer, err = NewConsumer(NewRepository(conn), nil, reg, f.marker, f.sender, logger.New(logger.Options{Output: io.Discard}))
	require.NoError(t, err)
	return f
}

func envelope(t *testing.T, eventID uuid.UUID, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now().UTC(), Data: raw})
	require.NoError(t, err)
	return body
}

func (f *consumerFixture) inbox(t *testing.T) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("merchant_id = ?", f.merchant).Find(&rows).Error)
	return rows
}

func TestConsumerStoresOrderCreatedInMerchantInbox(t *testing.T) {
	f := newConsumerFixture(t)
	eventID := uuid.New()
	orderID := uuid.New()
	body := envelope(t, eventID, payloads.OrderCreatedEvent{
		OrderID:       orderID,
		StoreID:       f.store,
		BuyerID:       uuid.New(),
		StoreSequence: 7,
		Total:         decimal.NewFromInt(450),
		PaymentMethod: enums.PaymentMethodCOD,
	})

	assert.True(t, f.consumer.Handle(context.Background(), "m-1", string(enums.EventOrderCreated), body))

	rows := f.inbox(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "New order #7", rows[0].Title)
	assert.Equal(t, eventID, rows[0].EventID)
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, orderID, *rows[0].OrderID)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, AudienceMerchant, f.sender.sent[0].Audience)

	// Redelivery is acked without a second message.
	assert.True(t, f.consumer.Handle(context.Background(), "m-1", string(enums.EventOrderCreated), body))
	assert.Len(t, f.sender.sent, 1)
	assert.Len(t, f.inbox(t), 1)
}

func TestConsumerSendsStatusChangesToBuyer(t *testing.T) {
	f := newConsumerFixture(t)
	link := "https://pay.example.test/abc"
	buyerID := uuid.New()
	body := envelope(t, uuid.New(), payloads.OrderStatusChangedEvent{
		OrderID:     uuid.New(),
		StoreID:     f.store,
		BuyerID:     buyerID,
		From:        enums.OrderStatusPending,
		To:          enums.OrderStatusUnpaid,
		PaymentLink: &link,
	})

	assert.True(t, f.consumer.Handle(context.Background(), "m-2", string(enums.EventOrderStatusChanged), body))
	require.Len(t, f.sender.sent, 1)
	msg := f.sender.sent[0]
	assert.Equal(t, AudienceBuyer, msg.Audience)
	assert.Equal(t, buyerID, *msg.BuyerID)
	assert.Contains(t, msg.Body, link)
	assert.Empty(t, f.inbox(t))
}

func TestConsumerAcksWhenSenderFails(t *testing.T) {
	f := newConsumerFixture(t)
	f.sender.err = errors.New("smtp down")
	body := envelope(t, uuid.New(), payloads.LedgerThresholdEvent{
		MerchantID: f.merchant,
		Balance:    decimal.NewFromInt(90),
		Threshold:  decimal.NewFromInt(100),
	})

	assert.True(t, f.consumer.Handle(context.Background(), "m-3", string(enums.EventLedgerThresholdReached), body))
	assert.Len(t, f.sender.sent, 1)
	assert.Zero(t, f.marker.released)
	require.Len(t, f.inbox(t), 1)
}

func TestConsumerRetriesWhenMerchantLookupFails(t *testing.T) {
	f := newConsumerFixture(t)
	body := envelope(t, uuid.New(), payloads.OrderCancelledEvent{
		OrderID: uuid.New(),
		StoreID: uuid.New(),
		BuyerID: uuid.New(),
		Reason:  "changed my mind",
	})

	assert.False(t, f.consumer.Handle(context.Background(), "m-4", string(enums.EventOrderCancelled), body))
	assert.Equal(t, 1, f.marker.released)
	assert.Empty(t, f.sender.sent)
}

func TestConsumerSkipsMalformedMessages(t *testing.T) {
	f := newConsumerFixture(t)
	ctx := context.Background()

	assert.True(t, f.consumer.Handle(ctx, "m-5", string(enums.EventOrderCreated), []byte("not json")))
	assert.True(t, f.consumer.Handle(ctx, "m-6", "unknown_event", envelope(t, uuid.New(), map[string]string{"a": "b"})))
	assert.Empty(t, f.sender.sent)

	f.marker.err = errors.New("redis down")
	body := envelope(t, uuid.New(), payloads.LedgerThresholdEvent{MerchantID: f.merchant})
	assert.False(t, f.consumer.Handle(ctx, "m-7", string(enums.EventLedgerThresholdNear), body))
}

func TestConsumerNacksWhileAnotherDeliveryHoldsTheEvent(t *testing.T) {
	f := newConsumerFixture(t)
	eventID := uuid.New()
	f.marker.seen[eventID] = false
	body := envelope(t, eventID, payloads.LedgerThresholdEvent{
		MerchantID: f.merchant,
		Balance:    decimal.NewFromInt(90),
		Threshold:  decimal.NewFromInt(100),
	})

	assert.False(t, f.consumer.Handle(context.Background(), "m-8", string(enums.EventLedgerThresholdReached), body))
	assert.Empty(t, f.sender.sent)
	assert.Zero(t, f.marker.released)
}
