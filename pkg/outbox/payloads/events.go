// Package payloads holds the typed data section of each outbox event. Fields
// tagged required are checked when a message is decoded.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// OrderCreatedEvent tells a store a new order arrived.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id" validate:"required"`
	StoreID       uuid.UUID           `json:"store_id" validate:"required"`
	BuyerID       uuid.UUID           `json:"buyer_id" validate:"required"`
	StoreSequence int64               `json:"store_sequence"`
	Total         decimal.Decimal     `json:"total"`
	PaymentMethod enums.PaymentMethod `json:"payment_method" validate:"required"`
}

// OrderStatusChangedEvent reports a forward lifecycle step.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"order_id" validate:"required"`
	StoreID     uuid.UUID         `json:"store_id" validate:"required"`
	BuyerID     uuid.UUID         `json:"buyer_id" validate:"required"`
	From        enums.OrderStatus `json:"from" validate:"required"`
	To          enums.OrderStatus `json:"to" validate:"required"`
	PaymentLink *string           `json:"payment_link,omitempty"`
	BookingID   *string           `json:"booking_id,omitempty"`
}

// OrderCancelledEvent tells the buyer an order was cancelled.
type OrderCancelledEvent struct {
	OrderID          uuid.UUID `json:"order_id" validate:"required"`
	StoreID          uuid.UUID `json:"store_id" validate:"required"`
	BuyerID          uuid.UUID `json:"buyer_id" validate:"required"`
	Reason           string    `json:"reason"`
	CancelledByStore bool      `json:"cancelled_by_store"`
	CancelledAt      time.Time `json:"cancelled_at"`
}

// LedgerThresholdEvent warns a merchant about their credit balance.
type LedgerThresholdEvent struct {
	MerchantID uuid.UUID       `json:"merchant_id" validate:"required"`
	Balance    decimal.Decimal `json:"balance"`
	Threshold  decimal.Decimal `json:"threshold"`
}

// PaymentRecordedEvent reports a processor callback that changed a transaction.
type PaymentRecordedEvent struct {
	TransactionID  uuid.UUID            `json:"transaction_id" validate:"required"`
	MerchantID     uuid.UUID            `json:"merchant_id" validate:"required"`
	OrderID        *uuid.UUID           `json:"order_id,omitempty"`
	Purpose        enums.PaymentPurpose `json:"purpose" validate:"required"`
	Status         enums.PaymentStatus  `json:"status" validate:"required"`
	Amount         decimal.Decimal      `json:"amount"`
	RefundRequired bool                 `json:"refund_required,omitempty"`
}
