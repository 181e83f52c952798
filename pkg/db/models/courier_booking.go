package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

// CourierBooking records the courier-network booking placed when an order ships.
type CourierBooking struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	BookingID      string                `gorm:"column:booking_id;type:text;not null"`
	VehicleClass   enums.VehicleClass    `gorm:"column:vehicle_class;type:text;not null"`
	WeightKG       int                   `gorm:"column:weight_kg;not null"`
	InsuredAmount  decimal.Decimal       `gorm:"column:insured_amount;type:numeric(14,2);not null"`
	Points         []types.DeliveryPoint `gorm:"column:points;type:jsonb;serializer:json"`
	CollectPayment bool                  `gorm:"column:collect_payment;not null"`
	Price          decimal.Decimal       `gorm:"column:price;type:numeric(14,2);not null"`
	Status         enums.BookingStatus   `gorm:"column:status;type:text;not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
