package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// ThresholdStatus is the merchant's standing against its minimum balance.
type ThresholdStatus struct {
	BelowThreshold bool
	NearThreshold  bool
}

// Result describes the outcome of a Debit or Credit.
type Result struct {
	Applied          bool
	Balance          decimal.Decimal
	ThresholdReached bool
	Status           ThresholdStatus
}

// Service applies idempotent balance movements inside the caller's transaction.
type Service struct {
	repo           Repository
	outbox         outboxPublisher
	logg           *logger.Logger
	metrics        *metrics.Market
	nearMultiplier decimal.Decimal
}

// Option customises a Service.
type Option func(*Service)

// WithNearMultiplier sets the factor of the threshold under which a near warning fires.
func WithNearMultiplier(m decimal.Decimal) Option {
	return func(s *Service) {
		if m.IsPositive() {
			s.nearMultiplier = m
		}
	}
}

// WithMetrics counts ledger entries by direction.
func WithMetrics(m *metrics.Market) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a ledger service.
func NewService(repo Repository, publisher outboxPublisher, logg *logger.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	s := &Service{
		repo:           repo,
		outbox:         publisher,
		logg:           logg,
		nearMultiplier: decimal.NewFromInt(2),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Debit removes amount from the merchant balance unless key was already applied.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, amount decimal.Decimal, key string) (*Result, error) {
	return s.apply(ctx, tx, merchantID, enums.LedgerDebit, amount, key)
}

// Credit adds amount to the merchant balance unless key was already applied.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, amount decimal.Decimal, key string) (*Result, error) {
	return s.apply(ctx, tx, merchantID, enums.LedgerCredit, amount, key)
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, merchantID uuid.UUID, dir enums.LedgerDirection, amount decimal.Decimal, key string) (*Result, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger amount must not be negative")
	}
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger idempotency key required")
	}

	repo := s.repo.WithTx(tx)
	merchant, err := repo.FindMerchant(ctx, merchantID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.NotFound("merchant")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
	}

	entry := &models.MerchantLedgerEntry{
		MerchantID:     merchantID,
		IdempotencyKey: key,
		Direction:      dir,
		Amount:         amount,
		BalanceAfter:   merchant.Balance,
	}
	inserted, err := repo.InsertEntry(ctx, entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record ledger entry")
	}
	if !inserted {
		return &Result{
			Balance:          merchant.Balance,
			ThresholdReached: merchant.ThresholdReached,
			Status:           s.status(merchant.Balance, merchant.Threshold),
		}, nil
	}

	delta := amount
	if dir == enums.LedgerDebit {
		delta = amount.Neg()
	}
	balance, err := repo.AdjustBalance(ctx, merchantID, delta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "adjust balance")
	}
	if err := repo.SetEntryBalance(ctx, entry.ID, balance); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record balance after")
	}

	status := s.status(balance, merchant.Threshold)
	if status.BelowThreshold != merchant.ThresholdReached {
		if err := repo.SetThresholdReached(ctx, merchantID, status.BelowThreshold); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "propagate threshold marker")
		}
	}
	if err := s.emitThresholdEvents(ctx, tx, merchant, balance, status, dir); err != nil {
		return nil, err
	}

	s.metrics.LedgerEntry(string(dir))
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithMerchantID(ctx, merchantID.String()), map[string]any{
			"direction":         dir,
			"amount":            amount.StringFixed(2),
			"balance":           balance.StringFixed(2),
			"threshold_reached": status.BelowThreshold,
		})
		s.logg.Info(logCtx, "ledger entry applied")
	}

	return &Result{
		Applied:          true,
		Balance:          balance,
		ThresholdReached: status.BelowThreshold,
		Status:           status,
	}, nil
}

func (s *Service) emitThresholdEvents(ctx context.Context, tx *gorm.DB, merchant *models.Merchant, balance decimal.Decimal, status ThresholdStatus, dir enums.LedgerDirection) error {
	var eventType enums.OutboxEventType
	switch {
	case status.BelowThreshold && !merchant.ThresholdReached:
		eventType = enums.EventLedgerThresholdReached
	case dir == enums.LedgerDebit && !status.BelowThreshold && status.NearThreshold:
		eventType = enums.EventLedgerThresholdNear
	default:
		return nil
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateMerchant,
		AggregateID:   merchant.ID,
		Data: payloads.LedgerThresholdEvent{
			MerchantID: merchant.ID,
			Balance:    balance,
			Threshold:  merchant.Threshold,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit threshold event")
	}
	return nil
}

func (s *Service) status(balance, threshold decimal.Decimal) ThresholdStatus {
	return ThresholdStatus{
		BelowThreshold: balance.LessThan(threshold),
		NearThreshold:  balance.LessThanOrEqual(threshold.Mul(s.nearMultiplier)),
	}
}

// CheckThreshold reports where the merchant's balance sits relative to its threshold.
func (s *Service) CheckThreshold(ctx context.Context, db *gorm.DB, merchantID uuid.UUID) (ThresholdStatus, error) {
	merchant, err := s.repo.WithTx(db).FindMerchant(ctx, merchantID)
	if err != nil {
		if isNotFound(err) {
			return ThresholdStatus{}, pkgerrors.NotFound("merchant")
		}
		return ThresholdStatus{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
	}
	return s.status(merchant.Balance, merchant.Threshold), nil
}

// Statement is a page of entries with the current balance.
type Statement struct {
	Merchant   models.Merchant
	Status     ThresholdStatus
	Entries    []models.MerchantLedgerEntry
	NextCursor string
}

// StatementForOwner returns the ledger page of the merchant owned by userID.
func (s *Service) StatementForOwner(ctx context.Context, ownerUserID uuid.UUID, params pagination.Params) (*Statement, error) {
	merchant, err := s.repo.FindMerchantByOwner(ctx, ownerUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.NotFound("merchant")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
	}
	entries, next, err := s.repo.ListEntries(ctx, merchant.ID, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return &Statement{
		Merchant:   *merchant,
		Status:     s.status(merchant.Balance, merchant.Threshold),
		Entries:    entries,
		NextCursor: next,
	}, nil
}

// AcceptsOrders reports whether the merchant may take new orders: the balance
// sits above the threshold or the merchant settles through recurring billing.
// A balance exactly at the threshold clears ThresholdReached but is not
// enough to take orders.
func AcceptsOrders(m models.Merchant) bool {
	return m.RecurringBilling || m.Balance.GreaterThan(m.Threshold)
}
