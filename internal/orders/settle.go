package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
)

// PaymentFailureReason is recorded on orders cancelled by a failed payment.
const PaymentFailureReason = "payment failure"

// PaymentExpiredReason is recorded on unpaid orders whose link lapsed.
const PaymentExpiredReason = "payment link expired"

// ErrCancelledBeforePayment is returned by MarkPaidFromPayment when the
// processor captured money for an order that was already cancelled. The
// caller owns the refund; nothing has been written when it is returned.
var ErrCancelledBeforePayment = pkgerrors.New(pkgerrors.CodeConflict, "order was cancelled before the payment settled")

// MarkPaidFromPayment moves an online order to Paid inside the caller's
// transaction. Orders already past Unpaid are left alone.
func (s *Service) MarkPaidFromPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case enums.OrderStatusPending, enums.OrderStatusUnpaid:
	case enums.OrderStatusCancelled:
		return ErrCancelledBeforePayment
	default:
		return nil
	}

	if err := repo.UpdateGuarded(ctx, order.ID, order.Version, map[string]any{"status": enums.OrderStatusPaid}); err != nil {
		return err
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         SystemActor.ref(order.StoreID),
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			StoreID: order.StoreID,
			BuyerID: order.BuyerID,
			From:    order.Status,
			To:      enums.OrderStatusPaid,
		},
	})
	if err != nil {
		return err
	}
	s.metrics.OrderTransition(string(order.Status), string(enums.OrderStatusPaid))
	return nil
}

// CancelForPaymentFailure cancels an unpaid order after the processor
// reported a failed payment. Already cancelled orders are a no-op.
func (s *Service) CancelForPaymentFailure(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case enums.OrderStatusCancelled:
		return nil
	case enums.OrderStatusPending, enums.OrderStatusUnpaid:
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, "order is "+string(order.Status)+" and cannot be cancelled by a failed payment")
	}
	if err := s.cancel(ctx, tx, repo, order, PaymentFailureReason, false, SystemActor); err != nil {
		return err
	}
	s.metrics.OrderTransition(string(order.Status), string(enums.OrderStatusCancelled))
	return nil
}

// ExpireUnpaid cancels an online order that never left Unpaid and voids its
// link. It reports whether the order was cancelled; orders that moved on in
// the meantime are left alone.
func (s *Service) ExpireUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var expired *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusUnpaid {
			return nil
		}
		if err := s.cancel(ctx, tx, repo, order, PaymentExpiredReason, false, SystemActor); err != nil {
			return err
		}
		expired = order
		return nil
	})
	if err != nil || expired == nil {
		return false, err
	}
	s.metrics.OrderTransition(string(enums.OrderStatusUnpaid), string(enums.OrderStatusCancelled))
	if expired.PaymentLink != nil && s.voider != nil {
		if err := s.voider.VoidOrderPayment(ctx, expired); err != nil {
			s.warn(ctx, expired.ID, "void expired payment link failed", err)
		}
	}
	return true, nil
}
