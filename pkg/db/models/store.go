package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/marketcore-backend/pkg/db/types"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

// Store is a merchant storefront with its delivery and payment configuration.
type Store struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID             uuid.UUID           `gorm:"column:merchant_id;type:uuid;not null;index"`
	Name                   string              `gorm:"column:name;type:text;not null"`
	IsPublic               bool                `gorm:"column:is_public;not null"`
	VacationMode           bool                `gorm:"column:vacation_mode;not null"`
	DeliveryMethods        dbtypes.StringList  `gorm:"column:delivery_methods"`
	PaymentMethods         dbtypes.StringList  `gorm:"column:payment_methods"`
	CreditThresholdReached bool                `gorm:"column:credit_threshold_reached;not null"`
	OrderCounter           int64               `gorm:"column:order_counter;not null"`
	Pickup                 types.DeliveryPoint `gorm:"column:pickup;type:jsonb;serializer:json"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// InventoryEntry is one catalog item inside a batch page.
type InventoryEntry struct {
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available int             `json:"available"`
	Consumed  int             `json:"consumed"`
}

// InventoryBatch is a page of a store's catalog with a running item counter.
type InventoryBatch struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	StoreID     uuid.UUID                 `gorm:"column:store_id;type:uuid;not null;uniqueIndex:ux_inventory_page,priority:1"`
	PageNumber  int                       `gorm:"column:page_number;not null;uniqueIndex:ux_inventory_page,priority:2"`
	Items       map[string]InventoryEntry `gorm:"column:items;type:jsonb;serializer:json"`
	ItemCounter int                       `gorm:"column:item_counter;not null"`
	Version     int64                     `gorm:"column:version;not null;default:1"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
