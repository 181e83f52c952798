package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/pkg/courier"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateGuarded(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) error
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) ([]models.Order, string, error)
	ListByStore(ctx context.Context, storeID uuid.UUID, status *enums.OrderStatus, params pagination.Params) ([]models.Order, string, error)
	FindStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
	FindBooking(ctx context.Context, orderID uuid.UUID) (*models.CourierBooking, error)
	CreateBooking(ctx context.Context, booking *models.CourierBooking) error
	MarkBookingCancelled(ctx context.Context, orderID uuid.UUID) error
	ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// LinkIssuer obtains the processor link for an online order and records the
// payment transaction in the caller's transaction.
type LinkIssuer interface {
	IssueOrderLink(ctx context.Context, tx *gorm.DB, order *models.Order) (string, error)
}

// PaymentVoider withdraws an issued order link at the processor.
type PaymentVoider interface {
	VoidOrderPayment(ctx context.Context, order *models.Order) error
}

// Courier is the slice of the courier adapter the lifecycle engine drives.
type Courier interface {
	Quote(ctx context.Context, req courier.QuoteRequest) (*decimal.Decimal, error)
	Book(ctx context.Context, req courier.BookingRequest) (*courier.BookingResult, error)
	Cancel(ctx context.Context, bookingID string) error
}

type ledgerDebiter interface {
	Debit(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, amount decimal.Decimal, key string) (*ledger.Result, error)
}
