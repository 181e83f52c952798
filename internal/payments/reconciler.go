package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/orders"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

type orderSettler interface {
	MarkPaidFromPayment(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CancelForPaymentFailure(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type ledgerCrediter interface {
	Credit(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, amount decimal.Decimal, key string) (*ledger.Result, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// Outcome reports what a callback did.
type Outcome struct {
	TransactionID uuid.UUID
	Status        enums.PaymentStatus
	Applied       bool
	Duplicate     bool

	// RefundRequired marks a capture for an order that was already cancelled.
	RefundRequired bool
}

// Reconciler applies processor callbacks to transactions, orders and the ledger.
type Reconciler struct {
	repo    *Repository
	tx      txRunner
	gateway Gateway
	orders  orderSettler
	ledger  ledgerCrediter
	outbox  outboxPublisher
	guard   ReplayGuard
	cfg     config.PaymentConfig
	logg    *logger.Logger
	metrics *metrics.Market
	now     func() time.Time
}

// ReconcilerParams groups the reconciler's collaborators.
type ReconcilerParams struct {
	Repo    *Repository
	Tx      txRunner
	Gateway Gateway
	Orders  orderSettler
	Ledger  ledgerCrediter
	Outbox  outboxPublisher
	Guard   ReplayGuard
	Config  config.PaymentConfig
	Logger  *logger.Logger
	Metrics *metrics.Market
	Now     func() time.Time
}

// NewReconciler validates params and builds a Reconciler. Guard is optional.
func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order settler required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		repo:    p.Repo,
		tx:      p.Tx,
		gateway: p.Gateway,
		orders:  p.Orders,
		ledger:  p.Ledger,
		outbox:  p.Outbox,
		guard:   p.Guard,
		cfg:     p.Config,
		logg:    p.Logger,
		metrics: p.Metrics,
		now:     now,
	}, nil
}

// ApplyStatus verifies and applies one processor callback. Replays of a
// terminal status are a no-op; a different terminal status is a conflict.
func (r *Reconciler) ApplyStatus(ctx context.Context, cb paygate.Callback) (*Outcome, error) {
	outcome, err := r.applyStatus(ctx, cb)
	r.metrics.PaymentCallback(callbackResult(outcome, err))
	return outcome, err
}

func (r *Reconciler) applyStatus(ctx context.Context, cb paygate.Callback) (*Outcome, error) {
	if err := r.verify(ctx, cb); err != nil {
		return nil, err
	}
	status, err := enums.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(cb.Status)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status")
	}
	txnID, err := uuid.Parse(strings.TrimSpace(cb.TxnID))
	if err != nil {
		return nil, pkgerrors.NotFound("payment transaction")
	}
	outcome := &Outcome{TransactionID: txnID, Status: status}

	fingerprint := Fingerprint(cb)
	if r.guard != nil {
		first, err := r.guard.Claim(ctx, fingerprint)
		if err != nil {
			r.warn(ctx, txnID, "replay guard unavailable", err)
		} else if !first {
			outcome.Duplicate = true
			return outcome, nil
		}
	}

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		outcome.Applied = false
		return r.apply(ctx, tx, cb, status, txnID, outcome)
	})
	if err != nil {
		if r.guard != nil {
			r.guard.Release(ctx, fingerprint)
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		if errors.Is(err, db.ErrStaleWrite) || db.IsRetryable(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment transaction changed concurrently")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply payment status")
	}

	if r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"transaction_id": txnID.String(),
			"status":         status.Name(),
			"applied":        outcome.Applied,
		})
		r.logg.Info(logCtx, "payment callback processed")
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, tx *gorm.DB, cb paygate.Callback, status enums.PaymentStatus, txnID uuid.UUID, outcome *Outcome) error {
	repo := r.repo.WithTx(tx)
	txn, err := repo.FindTransaction(ctx, txnID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment transaction")
	}
	if txn == nil {
		return pkgerrors.NotFound("payment transaction")
	}
	if txn.Status == status {
		return nil
	}
	if txn.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("transaction already %s, cannot become %s", txn.Status.Name(), status.Name()))
	}

	updates := map[string]any{"status": status}
	if ref := strings.TrimSpace(cb.RefNo); ref != "" {
		updates["external_ref"] = ref
	}
	if msg := strings.TrimSpace(cb.Message); msg != "" {
		updates["message"] = msg
	}
	if err := repo.TransitionTransaction(ctx, txn.ID, txn.Status, updates); err != nil {
		return err
	}

	refund := false
	switch status {
	case enums.PaymentStatusSuccess:
		switch txn.Purpose {
		case enums.PaymentPurposeTopUp:
			if _, err := r.ledger.Credit(ctx, tx, txn.MerchantID, txn.Amount, txn.ID.String()); err != nil {
				return err
			}
		case enums.PaymentPurposeOrder:
			if txn.OrderID == nil {
				return pkgerrors.New(pkgerrors.CodeInternal, "order payment without order reference")
			}
			err := r.orders.MarkPaidFromPayment(ctx, tx, *txn.OrderID)
			if errors.Is(err, orders.ErrCancelledBeforePayment) {
				// Order stays cancelled; the capture goes out as a refund.
				r.warn(ctx, txn.ID, "payment captured for cancelled order", err)
				refund = true
				break
			}
			if err != nil {
				return err
			}
			fee := r.gateway.Fees().FeeFor(txn.ProcessorID, txn.Amount)
			if err := repo.AddToDisbursement(ctx, txn.MerchantID, PeriodKey(r.now()), txn.Amount, fee); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update disbursement period")
			}
		}
	case enums.PaymentStatusFailed:
		if txn.Purpose == enums.PaymentPurposeOrder && txn.OrderID != nil {
			if err := r.orders.CancelForPaymentFailure(ctx, tx, *txn.OrderID); err != nil {
				return err
			}
		}
	}

	if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregatePaymentTransaction,
		AggregateID:   txn.ID,
		Actor:         &outbox.ActorRef{Role: enums.ActorSystem},
		Data: payloads.PaymentRecordedEvent{
			TransactionID:  txn.ID,
			MerchantID:     txn.MerchantID,
			OrderID:        txn.OrderID,
			Purpose:        txn.Purpose,
			Status:         status,
			Amount:         txn.Amount,
			RefundRequired: refund,
		},
	}); err != nil {
		return err
	}
	outcome.Applied = true
	outcome.RefundRequired = refund
	return nil
}

// ResolveRedirect maps the buyer's return from the processor to the storefront
// outcome page.
func (r *Reconciler) ResolveRedirect(ctx context.Context, cb paygate.Callback) (string, error) {
	if err := r.verify(ctx, cb); err != nil {
		return "", err
	}
	purpose, err := enums.ParsePaymentPurpose(strings.TrimSpace(cb.Param1))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment purpose")
	}
	status, err := enums.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(cb.Status)))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status")
	}
	return r.cfg.OutcomeURL(string(purpose), RedirectOutcome(status)), nil
}

func (r *Reconciler) verify(ctx context.Context, cb paygate.Callback) error {
	ok, err := r.gateway.VerifyCallback(ctx, cb)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify callback digest")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "callback digest mismatch")
	}
	return nil
}

func (r *Reconciler) warn(ctx context.Context, txnID uuid.UUID, msg string, err error) {
	if r.logg == nil {
		return
	}
	r.logg.WarnErr(r.logg.WithField(ctx, "transaction_id", txnID.String()), msg, err)
}

// RedirectOutcome buckets a processor status into the page the buyer sees.
func RedirectOutcome(status enums.PaymentStatus) string {
	switch status {
	case enums.PaymentStatusSuccess:
		return "success"
	case enums.PaymentStatusPending, enums.PaymentStatusUnknown, enums.PaymentStatusAuthorized:
		return "pending"
	case enums.PaymentStatusVoid, enums.PaymentStatusRefund, enums.PaymentStatusChargeback:
		return "cancelled"
	}
	return "failed"
}

// PeriodKey is the ISO week a settlement is aggregated under, e.g. "2026-W07".
func PeriodKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func callbackResult(outcome *Outcome, err error) string {
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return strings.ToLower(string(typed.Code()))
		}
		return "error"
	}
	switch {
	case outcome.Duplicate:
		return "duplicate"
	case outcome.Applied:
		return "applied"
	}
	return "noop"
}
