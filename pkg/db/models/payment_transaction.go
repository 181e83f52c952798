package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// PaymentTransaction tracks one payment link from issuance to its terminal callback.
// For order payments the ID equals the order ID.
type PaymentTransaction struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Purpose     enums.PaymentPurpose `gorm:"column:purpose;type:text;not null"`
	MerchantID  uuid.UUID            `gorm:"column:merchant_id;type:uuid;not null;index"`
	OrderID     *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	Amount      decimal.Decimal      `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency    string               `gorm:"column:currency;type:text;not null"`
	ProcessorID string               `gorm:"column:processor_id;type:text;not null"`
	Status      enums.PaymentStatus  `gorm:"column:status;type:text;not null"`
	ExternalRef *string              `gorm:"column:external_ref"`
	Message     *string              `gorm:"column:message"`
	PayerEmail  string               `gorm:"column:payer_email;type:text;not null"`
	Link        string               `gorm:"column:link;type:text;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// DisbursementPeriod aggregates a merchant's successful order payments for one
// ISO week ("2026-W07").
type DisbursementPeriod struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID       uuid.UUID       `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex:ux_disbursement_period,priority:1"`
	PeriodKey        string          `gorm:"column:period_key;type:text;not null;uniqueIndex:ux_disbursement_period,priority:2"`
	TransactionCount int64           `gorm:"column:transaction_count;not null"`
	GrossAmount      decimal.Decimal `gorm:"column:gross_amount;type:numeric(14,2);not null"`
	ProcessorFee     decimal.Decimal `gorm:"column:processor_fee;type:numeric(14,2);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
