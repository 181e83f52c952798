package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

// Order is the canonical record of one store's share of a checkout.
type Order struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID           uuid.UUID            `gorm:"column:buyer_id;type:uuid;not null;index"`
	StoreID           uuid.UUID            `gorm:"column:store_id;type:uuid;not null;index"`
	MerchantID        uuid.UUID            `gorm:"column:merchant_id;type:uuid;not null"`
	Status            enums.OrderStatus    `gorm:"column:status;type:text;not null"`
	PaymentMethod     enums.PaymentMethod  `gorm:"column:payment_method;type:text;not null"`
	DeliveryMethod    enums.DeliveryMethod `gorm:"column:delivery_method;type:text;not null"`
	Currency          string               `gorm:"column:currency;type:text;not null"`
	Subtotal          decimal.Decimal      `gorm:"column:subtotal;type:numeric(14,2);not null"`
	TransactionFee    decimal.Decimal      `gorm:"column:transaction_fee;type:numeric(14,2);not null"`
	DeliveryPrice     decimal.Decimal      `gorm:"column:delivery_price;type:numeric(14,2);not null"`
	DeliveryDiscount  decimal.Decimal      `gorm:"column:delivery_discount;type:numeric(14,2);not null"`
	OrderDiscount     decimal.Decimal      `gorm:"column:order_discount;type:numeric(14,2);not null"`
	Total             decimal.Decimal      `gorm:"column:total;type:numeric(14,2);not null"`
	DeliveryVoucherID *uuid.UUID           `gorm:"column:delivery_voucher_id;type:uuid"`
	OrderVoucherID    *uuid.UUID           `gorm:"column:order_voucher_id;type:uuid"`
	OrderVoucherUsage *int                 `gorm:"column:order_voucher_usage"`
	ChargeToLedger    bool                 `gorm:"column:charge_to_ledger;not null"`
	PaymentLink       *string              `gorm:"column:payment_link"`
	CourierBookingID  *string              `gorm:"column:courier_booking_id"`
	StoreSequence     int64                `gorm:"column:store_sequence;not null"`
	BuyerSequence     int64                `gorm:"column:buyer_sequence;not null"`
	BuyerEmail        string               `gorm:"column:buyer_email;type:text;not null"`
	Dropoff           types.DeliveryPoint  `gorm:"column:dropoff;type:jsonb;serializer:json"`
	CancelReason      *string              `gorm:"column:cancel_reason"`
	CancelledByStore  *bool                `gorm:"column:cancelled_by_store"`
	CancelledAt       *time.Time           `gorm:"column:cancelled_at"`
	Version           int64                `gorm:"column:version;not null;default:1"`
	Items             []OrderLineItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// OptionSurcharge is a selected item option that adds to the unit price.
type OptionSurcharge struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// OrderLineItem snapshots one cart entry at checkout time.
type OrderLineItem struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ItemID     uuid.UUID         `gorm:"column:item_id;type:uuid;not null"`
	PageNumber int               `gorm:"column:page_number;not null"`
	Name       string            `gorm:"column:name;type:text;not null"`
	Quantity   int               `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,2);not null"`
	Options    []OptionSurcharge `gorm:"column:options;type:jsonb;serializer:json"`
	LineTotal  decimal.Decimal   `gorm:"column:line_total;type:numeric(14,2);not null"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}
