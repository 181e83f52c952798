package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the slice of the payment gateway adapter this package drives.
type Gateway interface {
	RequestLink(ctx context.Context, req paygate.LinkRequest) (string, error)
	VerifyCallback(ctx context.Context, cb paygate.Callback) (bool, error)
	Void(ctx context.Context, merchantKeyID, txnID string) error
	Fees() paygate.FeeTable
}

// Links issues processor links and records the matching transactions.
type Links struct {
	repo    *Repository
	tx      txRunner
	gateway Gateway
	cfg     config.PaymentConfig
	logg    *logger.Logger
}

// NewLinks builds the link service.
func NewLinks(repo *Repository, tx txRunner, gateway Gateway, cfg config.PaymentConfig, logg *logger.Logger) (*Links, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &Links{repo: repo, tx: tx, gateway: gateway, cfg: cfg, logg: logg}, nil
}

// IssueOrderLink returns the link for an online order, creating the
// transaction (ID = order ID) in tx. An existing transaction short-circuits.
func (l *Links) IssueOrderLink(ctx context.Context, tx *gorm.DB, order *models.Order) (string, error) {
	repo := l.repo.WithTx(tx)
	existing, err := repo.FindTransaction(ctx, order.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment transaction")
	}
	if existing != nil {
		return existing.Link, nil
	}

	processor := order.PaymentMethod.Processor()
	if !order.PaymentMethod.IsOnline() || !l.gateway.Fees().Supports(processor) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order does not use a supported online processor")
	}
	merchant, err := repo.FindMerchant(ctx, order.MerchantID)
	if err != nil {
		return "", merchantError(err)
	}
	if strings.TrimSpace(merchant.GatewayKeyID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "merchant has no payment gateway profile")
	}

	req := paygate.LinkRequest{
		MerchantKeyID: merchant.GatewayKeyID,
		TransactionID: order.ID.String(),
		Amount:        order.Total,
		Currency:      order.Currency,
		Description:   fmt.Sprintf("Order #%d", order.StoreSequence),
		PayerEmail:    order.BuyerEmail,
		ProcessorID:   processor,
		Param1:        string(enums.PaymentPurposeOrder),
		Param2:        order.ID.String(),
	}
	link, err := l.gateway.RequestLink(ctx, req)
	if err != nil {
		return "", err
	}

	orderID := order.ID
	txn := &models.PaymentTransaction{
		ID:          order.ID,
		Purpose:     enums.PaymentPurposeOrder,
		MerchantID:  merchant.ID,
		OrderID:     &orderID,
		Amount:      order.Total,
		Currency:    order.Currency,
		ProcessorID: processor,
		Status:      enums.PaymentStatusUnknown,
		PayerEmail:  order.BuyerEmail,
		Link:        link,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment transaction")
	}
	return link, nil
}

// TopUpLink is what a merchant follows to add credit.
type TopUpLink struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Link          string          `json:"link"`
}

// RequestTopUpLink creates a merchant_topup transaction and its link in one commit.
func (l *Links) RequestTopUpLink(ctx context.Context, ownerUserID uuid.UUID, amount decimal.Decimal, processor string) (*TopUpLink, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "top-up amount must be positive")
	}
	if !l.gateway.Fees().Supports(processor) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment processor")
	}
	if strings.TrimSpace(l.cfg.PlatformKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "top-ups are not configured")
	}
	amount = amount.Round(2)

	var out *TopUpLink
	err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := l.repo.WithTx(tx)
		merchant, err := repo.FindMerchantByOwner(ctx, ownerUserID)
		if err != nil {
			return merchantError(err)
		}
		id := uuid.New()
		link, err := l.gateway.RequestLink(ctx, paygate.LinkRequest{
			MerchantKeyID: l.cfg.PlatformKey,
			TransactionID: id.String(),
			Amount:        amount,
			Currency:      l.cfg.Currency,
			Description:   "Credit top-up",
			PayerEmail:    merchant.Email,
			ProcessorID:   processor,
			Param1:        string(enums.PaymentPurposeTopUp),
			Param2:        merchant.ID.String(),
		})
		if err != nil {
			return err
		}
		txn := &models.PaymentTransaction{
			ID:          id,
			Purpose:     enums.PaymentPurposeTopUp,
			MerchantID:  merchant.ID,
			Amount:      amount,
			Currency:    l.cfg.Currency,
			ProcessorID: processor,
			Status:      enums.PaymentStatusUnknown,
			PayerEmail:  merchant.Email,
			Link:        link,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record top-up transaction")
		}
		out = &TopUpLink{TransactionID: id, Amount: amount, Link: link}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if l.logg != nil {
		logCtx := l.logg.WithFields(ctx, map[string]any{"transaction_id": out.TransactionID.String(), "amount": amount.StringFixed(2)})
		l.logg.Info(logCtx, "top-up link issued")
	}
	return out, nil
}

// VoidOrderPayment asks the processor to void an open order transaction and
// marks it void locally once the processor agrees.
func (l *Links) VoidOrderPayment(ctx context.Context, order *models.Order) error {
	txn, err := l.repo.FindTransaction(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment transaction")
	}
	if txn == nil || txn.Status.IsTerminal() {
		return nil
	}
	merchant, err := l.repo.FindMerchant(ctx, txn.MerchantID)
	if err != nil {
		return merchantError(err)
	}
	if err := l.gateway.Void(ctx, merchant.GatewayKeyID, txn.ID.String()); err != nil {
		return err
	}
	return l.repo.TransitionTransaction(ctx, txn.ID, txn.Status, map[string]any{"status": enums.PaymentStatusVoid})
}

func merchantError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.NotFound("merchant")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
}
