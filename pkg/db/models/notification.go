package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// Notification is one entry in a merchant's in-app inbox.
type Notification struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	MerchantID uuid.UUID             `gorm:"column:merchant_id;type:uuid;not null;index"`
	StoreID    *uuid.UUID            `gorm:"column:store_id;type:uuid"`
	OrderID    *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	EventID    uuid.UUID             `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType  enums.OutboxEventType `gorm:"column:event_type;type:text;not null"`
	Title      string                `gorm:"column:title;type:text;not null"`
	Message    string                `gorm:"column:message;type:text;not null"`
	ReadAt     *time.Time            `gorm:"column:read_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}
