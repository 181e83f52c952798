package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// Merchant holds the prepaid credit ledger and the gateway profile of a seller.
type Merchant struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OwnerUserID       uuid.UUID       `gorm:"column:owner_user_id;type:uuid;not null;uniqueIndex"`
	Email             string          `gorm:"column:email;type:text;not null"`
	Balance           decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null"`
	Threshold         decimal.Decimal `gorm:"column:threshold;type:numeric(14,2);not null"`
	ThresholdReached  bool            `gorm:"column:threshold_reached;not null"`
	TransactionFeePct decimal.Decimal `gorm:"column:transaction_fee_pct;type:numeric(6,4);not null"`
	RecurringBilling  bool            `gorm:"column:recurring_billing;not null"`
	GatewayKeyID      string          `gorm:"column:gateway_key_id;type:text"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// MerchantLedgerEntry is one applied balance change. The (merchant_id,
// idempotency_key) pair is unique and doubles as the processed-key set.
type MerchantLedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID     uuid.UUID             `gorm:"column:merchant_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_key,priority:1"`
	IdempotencyKey string                `gorm:"column:idempotency_key;type:text;not null;uniqueIndex:ux_ledger_entries_key,priority:2"`
	Direction      enums.LedgerDirection `gorm:"column:direction;type:text;not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	BalanceAfter   decimal.Decimal       `gorm:"column:balance_after;type:numeric(14,2);not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}
