// Package delivery prices courier deliveries from a store pickup to a buyer drop-off.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/courier"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

const (
	defaultVehicle  = enums.VehicleMotorbike
	defaultWeightKG = 1
)

// Quoter is the pricing half of the courier adapter.
type Quoter interface {
	Quote(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error)
}

// QuoteInput describes one delivery to price.
type QuoteInput struct {
	StoreID       uuid.UUID           `json:"store_id" validate:"required"`
	Dropoff       types.DeliveryPoint `json:"dropoff"`
	VehicleClass  enums.VehicleClass  `json:"vehicle_class,omitempty"`
	WeightKG      int                 `json:"weight_kg,omitempty" validate:"omitempty,min=1,max=200"`
	InsuredAmount decimal.Decimal     `json:"insured_amount" validate:"money"`
	PaymentMethod enums.PaymentMethod `json:"payment_method,omitempty"`
	CollectAmount decimal.Decimal     `json:"collect_amount" validate:"money"`
}

// Quote is a priced delivery. Available is false when the courier network
// could not price the route; Price is then nil.
type Quote struct {
	StoreID      uuid.UUID          `json:"store_id"`
	VehicleClass enums.VehicleClass `json:"vehicle_class"`
	Price        *decimal.Decimal   `json:"price"`
	Available    bool               `json:"available"`
}

// Service looks up store pickups and asks the courier for a price.
type Service struct {
	db      *gorm.DB
	courier Quoter
	logg    *logger.Logger
	metrics *metrics.Market
}

// NewService builds a delivery quote service. A nil courier makes every
// quote unavailable.
func NewService(db *gorm.DB, courier Quoter, logg *logger.Logger, m *metrics.Market) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &Service{db: db, courier: courier, logg: logg, metrics: m}, nil
}

// QuoteForStore prices a delivery from the store's pickup point. Courier
// outages degrade to an unavailable quote instead of an error.
func (s *Service) QuoteForStore(ctx context.Context, in QuoteInput) (*Quote, error) {
	if in.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store_id is required")
	}
	if err := in.Dropoff.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid drop-off")
	}
	if in.VehicleClass == "" {
		in.VehicleClass = defaultVehicle
	}
	if !in.VehicleClass.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown vehicle class")
	}
	if in.WeightKG <= 0 {
		in.WeightKG = defaultWeightKG
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = enums.PaymentMethodCOD
	}

	var store models.Store
	if err := s.db.WithContext(ctx).Where("id = ?", in.StoreID).First(&store).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("store")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	if !store.DeliveryMethods.Contains(string(enums.DeliveryMethodCourier)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store does not ship through the courier network")
	}

	quote := &Quote{StoreID: store.ID, VehicleClass: in.VehicleClass}
	if s.courier == nil {
		return quote, nil
	}

	req := courier.QuoteRequest{
		Points:        []types.DeliveryPoint{store.Pickup, in.Dropoff},
		InsuredAmount: in.InsuredAmount,
		VehicleClass:  in.VehicleClass,
		WeightKG:      in.WeightKG,
		PaymentMethod: in.PaymentMethod,
	}
	if in.PaymentMethod.IsCOD() {
		req.CollectAmount = in.CollectAmount
	}

	started := time.Now()
	price, err := s.courier.Quote(ctx, req)
	s.metrics.ObserveDependency("courier", "quote", time.Since(started))
	if err != nil {
		s.warn(ctx, store.ID, "courier quote failed", err)
		return quote, nil
	}
	if price != nil {
		quote.Price = price
		quote.Available = true
	}
	return quote, nil
}

func (s *Service) warn(ctx context.Context, storeID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.WarnErr(s.logg.WithStoreID(ctx, storeID.String()), msg, err)
}
