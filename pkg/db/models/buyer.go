package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// Buyer is the purchasing profile with its own order counter.
type Buyer struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email        string    `gorm:"column:email;type:text;not null"`
	OrderCounter int64     `gorm:"column:order_counter;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// CartEntry is one item a buyer placed in the cart for a store.
type CartEntry struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID    uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index"`
	StoreID    uuid.UUID         `gorm:"column:store_id;type:uuid;not null"`
	ItemID     uuid.UUID         `gorm:"column:item_id;type:uuid;not null"`
	PageNumber int               `gorm:"column:page_number;not null"`
	Name       string            `gorm:"column:name;type:text;not null"`
	Quantity   int               `gorm:"column:quantity;not null"`
	UnitPrice  decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,2);not null"`
	Options    []OptionSurcharge `gorm:"column:options;type:jsonb;serializer:json"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}

// Voucher is a discount definition buyers can claim.
type Voucher struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code         string             `gorm:"column:code;type:text;not null;uniqueIndex"`
	Type         enums.VoucherType  `gorm:"column:type;type:text;not null"`
	DiscountKind enums.DiscountKind `gorm:"column:discount_kind;type:text;not null"`
	Percentage   decimal.Decimal    `gorm:"column:percentage;type:numeric(6,4);not null"`
	MaxAmount    decimal.Decimal    `gorm:"column:max_amount;type:numeric(14,2);not null"`
	FlatAmount   decimal.Decimal    `gorm:"column:flat_amount;type:numeric(14,2);not null"`
	MinSubtotal  decimal.Decimal    `gorm:"column:min_subtotal;type:numeric(14,2);not null"`
	MaxUses      int                `gorm:"column:max_uses;not null"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// ClaimedVoucher counts down the uses a buyer has left on a voucher.
type ClaimedVoucher struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID       uuid.UUID `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex:ux_claimed_voucher,priority:1"`
	VoucherID     uuid.UUID `gorm:"column:voucher_id;type:uuid;not null;uniqueIndex:ux_claimed_voucher,priority:2"`
	RemainingUses int       `gorm:"column:remaining_uses;not null"`
	ClaimedAt     time.Time `gorm:"column:claimed_at;autoCreateTime"`
}
