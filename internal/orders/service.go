package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/courier"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

const (
	defaultVehicle  = enums.VehicleMotorbike
	defaultWeightKG = 1
)

// Service drives the order lifecycle.
type Service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	ledger  ledgerDebiter
	links   LinkIssuer
	voider  PaymentVoider
	courier Courier
	logg    *logger.Logger
	metrics *metrics.Market
}

// Option customises a Service.
type Option func(*Service)

// WithCourier enables courier-network shipping.
func WithCourier(c Courier) Option {
	return func(s *Service) { s.courier = c }
}

// WithPaymentVoider enables voiding issued links when an order is cancelled.
func WithPaymentVoider(v PaymentVoider) Option {
	return func(s *Service) { s.voider = v }
}

// WithMetrics records order transitions and courier call latency.
func WithMetrics(m *metrics.Market) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds the order lifecycle service.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, debiter ledgerDebiter, links LinkIssuer, logg *logger.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if debiter == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if links == nil {
		return nil, fmt.Errorf("payment link issuer required")
	}
	s := &Service{
		repo:   repo,
		tx:     tx,
		outbox: publisher,
		ledger: debiter,
		links:  links,
		logg:   logg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NextStatus returns the state an advance would move order to.
func NextStatus(order *models.Order) (enums.OrderStatus, error) {
	if order.Status.IsTerminal() {
		return "", pkgerrors.InvalidTransition(string(order.Status), "advance", fmt.Sprintf("order is %s", order.Status))
	}
	if order.PaymentMethod.IsCOD() && order.Status == enums.OrderStatusPending {
		return enums.OrderStatusPaid, nil
	}
	if order.PaymentMethod.IsOnline() && order.Status == enums.OrderStatusUnpaid {
		return "", pkgerrors.InvalidTransition(string(order.Status), "advance", "order is awaiting payment confirmation")
	}
	idx := order.Status.Index()
	if idx < 0 || idx+1 >= len(enums.OrderStatusSequence) {
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("order has unknown status %q", order.Status))
	}
	return enums.OrderStatusSequence[idx+1], nil
}

// ChangeStatus advances the order one step. Courier bookings are placed
// before the transaction and withdrawn if it does not commit.
func (s *Service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if !input.Actor.manages(order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the store or an admin may advance an order")
	}
	next, err := NextStatus(order)
	if err != nil {
		return nil, err
	}

	var (
		booking *models.CourierBooking
		booked  bool
	)
	if next == enums.OrderStatusShipped && order.DeliveryMethod == enums.DeliveryMethodCourier {
		booking, booked, err = s.ensureBooking(ctx, order, input.Shipping)
		if err != nil {
			return nil, err
		}
	}

	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		if current.Status != order.Status {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
		}

		updates := map[string]any{"status": next}
		var link *string
		switch next {
		case enums.OrderStatusUnpaid:
			link = current.PaymentLink
			if link == nil {
				issued, err := s.links.IssueOrderLink(ctx, tx, current)
				if err != nil {
					return err
				}
				link = &issued
			}
			updates["payment_link"] = *link
		case enums.OrderStatusShipped:
			if booking != nil {
				if booked {
					if err := repo.CreateBooking(ctx, booking); err != nil {
						if db.IsUniqueViolation(err, "") {
							return pkgerrors.New(pkgerrors.CodeConflict, "order already has a courier booking")
						}
						return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record courier booking")
					}
				}
				updates["courier_booking_id"] = booking.BookingID
			}
			if current.ChargeToLedger && current.TransactionFee.IsPositive() {
				if _, err := s.ledger.Debit(ctx, tx, current.MerchantID, current.TransactionFee, current.ID.String()); err != nil {
					return err
				}
			}
		}

		if err := repo.UpdateGuarded(ctx, current.ID, current.Version, updates); err != nil {
			return err
		}

		event := payloads.OrderStatusChangedEvent{
			OrderID:     current.ID,
			StoreID:     current.StoreID,
			BuyerID:     current.BuyerID,
			From:        current.Status,
			To:          next,
			PaymentLink: link,
		}
		if booking != nil {
			event.BookingID = &booking.BookingID
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			Actor:         input.Actor.ref(current.StoreID),
			Data:          event,
		}); err != nil {
			return err
		}

		updated, err = repo.FindByID(ctx, current.ID)
		return err
	})
	if err != nil {
		if booked {
			s.cancelBooking(ctx, order.ID, booking.BookingID)
		}
		return nil, txError(err, "advance order")
	}

	s.metrics.OrderTransition(string(order.Status), string(next))
	s.info(ctx, order.ID, "order advanced", map[string]any{"from": order.Status, "to": next})
	return updated, nil
}

func (s *Service) ensureBooking(ctx context.Context, order *models.Order, opts ShippingOptions) (*models.CourierBooking, bool, error) {
	existing, err := s.repo.FindBooking(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load courier booking")
	}
	if existing != nil {
		if existing.Status != enums.BookingStatusBooked {
			return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "courier booking was cancelled")
		}
		return existing, false, nil
	}
	if s.courier == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeDependency, "courier network is not configured")
	}

	store, err := s.repo.FindStore(ctx, order.StoreID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store pickup")
	}
	if opts.VehicleClass == "" {
		opts.VehicleClass = defaultVehicle
	}
	if !opts.VehicleClass.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "unknown vehicle class")
	}
	if opts.WeightKG <= 0 {
		opts.WeightKG = defaultWeightKG
	}

	req := courier.QuoteRequest{
		Points:        []types.DeliveryPoint{store.Pickup, order.Dropoff},
		InsuredAmount: order.Subtotal,
		VehicleClass:  opts.VehicleClass,
		WeightKG:      opts.WeightKG,
		PaymentMethod: order.PaymentMethod,
	}
	if order.PaymentMethod.IsCOD() {
		req.CollectAmount = order.Total
	}

	started := time.Now()
	price, err := s.courier.Quote(ctx, req)
	s.metrics.ObserveDependency("courier", "quote", time.Since(started))
	if err != nil {
		return nil, false, err
	}
	if price == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeDependency, "courier quote unavailable, try again later")
	}

	started = time.Now()
	result, err := s.courier.Book(ctx, courier.BookingRequest{
		QuoteRequest:    req,
		Matter:          fmt.Sprintf("Order #%d", order.StoreSequence),
		MotoboxRequired: opts.MotoboxRequired,
	})
	s.metrics.ObserveDependency("courier", "book", time.Since(started))
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, false, err
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "courier booking failed")
	}
	if !result.IsSuccessful {
		return nil, false, pkgerrors.ProviderRejected("courier rejected the booking", result.ParameterErrors)
	}

	bookedPrice := result.Price
	if bookedPrice.IsZero() {
		bookedPrice = *price
	}
	return &models.CourierBooking{
		ID:             uuid.New(),
		OrderID:        order.ID,
		BookingID:      result.BookingID,
		VehicleClass:   opts.VehicleClass,
		WeightKG:       opts.WeightKG,
		InsuredAmount:  order.Subtotal,
		Points:         req.Points,
		CollectPayment: order.PaymentMethod.IsCOD(),
		Price:          bookedPrice,
		Status:         enums.BookingStatusBooked,
	}, true, nil
}

// Cancellable reports whether order may still be cancelled.
func Cancellable(order *models.Order) error {
	switch order.Status {
	case enums.OrderStatusPending, enums.OrderStatusUnpaid:
		return nil
	case enums.OrderStatusPaid:
		if order.PaymentMethod.IsCOD() {
			return nil
		}
		return pkgerrors.InvalidTransition(string(order.Status), "cancel", "paid online orders cannot be cancelled")
	}
	return pkgerrors.InvalidTransition(string(order.Status), "cancel", fmt.Sprintf("order is %s and cannot be cancelled", order.Status))
}

// CancelOrder cancels the order, then voids the payment link and withdraws
// the courier booking on a best-effort basis.
func (s *Service) CancelOrder(ctx context.Context, input CancelInput) (*models.Order, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}

	var (
		before  *models.Order
		updated *models.Order
		booking *models.CourierBooking
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if !input.Actor.manages(current) && !input.Actor.owns(current) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to cancel this order")
		}
		if err := Cancellable(current); err != nil {
			return err
		}
		byStore := input.Actor.Role == enums.ActorMerchant
		if err := s.cancel(ctx, tx, repo, current, reason, byStore, input.Actor); err != nil {
			return err
		}

		booking, err = repo.FindBooking(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load courier booking")
		}
		if booking != nil {
			if err := repo.MarkBookingCancelled(ctx, current.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel courier booking row")
			}
		}

		before = current
		updated, err = repo.FindByID(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, txError(err, "cancel order")
	}

	s.metrics.OrderTransition(string(before.Status), string(enums.OrderStatusCancelled))
	s.info(ctx, before.ID, "order cancelled", map[string]any{"from": before.Status, "by_store": input.Actor.Role == enums.ActorMerchant})

	if before.PaymentLink != nil && s.voider != nil {
		if err := s.voider.VoidOrderPayment(ctx, before); err != nil {
			s.warn(ctx, before.ID, "payment void failed", err)
		}
	}
	if booking != nil && booking.Status == enums.BookingStatusBooked {
		s.cancelBooking(ctx, before.ID, booking.BookingID)
	}
	return updated, nil
}

func (s *Service) cancel(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, reason string, byStore bool, actor Actor) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":             enums.OrderStatusCancelled,
		"cancel_reason":      reason,
		"cancelled_by_store": byStore,
		"cancelled_at":       now,
		"payment_link":       nil,
	}
	if err := repo.UpdateGuarded(ctx, order.ID, order.Version, updates); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor.ref(order.StoreID),
		Data: payloads.OrderCancelledEvent{
			OrderID:          order.ID,
			StoreID:          order.StoreID,
			BuyerID:          order.BuyerID,
			Reason:           reason,
			CancelledByStore: byStore,
			CancelledAt:      now,
		},
	})
}

func (s *Service) cancelBooking(ctx context.Context, orderID uuid.UUID, bookingID string) {
	if s.courier == nil {
		return
	}
	started := time.Now()
	err := s.courier.Cancel(ctx, bookingID)
	s.metrics.ObserveDependency("courier", "cancel", time.Since(started))
	if err != nil {
		s.warn(ctx, orderID, "courier booking cancel failed", err)
	}
}

// GetOrder returns the order if actor may see it.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDTO, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.manages(order) && !actor.owns(order) {
		return nil, pkgerrors.NotFound("order")
	}
	dto := FromModel(order)
	return &dto, nil
}

// ListBuyerOrders pages through the caller's own orders.
func (s *Service) ListBuyerOrders(ctx context.Context, actor Actor, params pagination.Params) (*OrderList, error) {
	if actor.Role != enums.ActorBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "buyer role required")
	}
	orders, next, err := s.repo.ListByBuyer(ctx, actor.UserID, params)
	if err != nil {
		return nil, listError(err)
	}
	return toList(orders, next), nil
}

// ListStoreOrders pages through a store's orders, optionally filtered by status.
func (s *Service) ListStoreOrders(ctx context.Context, actor Actor, storeID uuid.UUID, status *enums.OrderStatus, params pagination.Params) (*OrderList, error) {
	store, err := s.repo.FindStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("store")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	if !actor.manages(&models.Order{MerchantID: store.MerchantID}) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store does not belong to caller")
	}
	orders, next, err := s.repo.ListByStore(ctx, storeID, status, params)
	if err != nil {
		return nil, listError(err)
	}
	return toList(orders, next), nil
}

func (s *Service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

func (s *Service) info(ctx context.Context, orderID uuid.UUID, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), fields), msg)
}

func (s *Service) warn(ctx context.Context, orderID uuid.UUID, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.WarnErr(s.logg.WithOrderID(ctx, orderID.String()), msg, err)
}

func toList(orders []models.Order, next string) *OrderList {
	out := &OrderList{Orders: make([]OrderDTO, 0, len(orders)), NextCursor: next}
	for i := range orders {
		out.Orders = append(out.Orders, FromModel(&orders[i]))
	}
	return out
}

func listError(err error) error {
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
}

func txError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	if errors.Is(err, db.ErrStaleWrite) || db.IsRetryable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order was modified concurrently, retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
