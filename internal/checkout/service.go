package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/internal/cart"
	"github.com/angelmondragon/marketcore-backend/internal/delivery"
	"github.com/angelmondragon/marketcore-backend/internal/orders"
	"github.com/angelmondragon/marketcore-backend/internal/pricing"
	"github.com/angelmondragon/marketcore-backend/internal/stores"
	"github.com/angelmondragon/marketcore-backend/internal/vouchers"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"

	defaultParallelism = 4
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

type deliveryQuoter interface {
	QuoteForStore(ctx context.Context, in delivery.QuoteInput) (*delivery.Quote, error)
}

// StoreSelection is the buyer's delivery and payment choice for one store.
type StoreSelection struct {
	StoreID           uuid.UUID            `json:"store_id" validate:"required"`
	DeliveryMethod    enums.DeliveryMethod `json:"delivery_method" validate:"required"`
	PaymentMethod     enums.PaymentMethod  `json:"payment_method" validate:"required"`
	OrderVoucherID    *uuid.UUID           `json:"order_voucher_id,omitempty"`
	DeliveryVoucherID *uuid.UUID           `json:"delivery_voucher_id,omitempty"`
}

// PlaceOrderInput is one checkout across every store in the buyer's cart.
type PlaceOrderInput struct {
	BuyerID uuid.UUID           `json:"-"`
	Dropoff types.DeliveryPoint `json:"dropoff"`
	Stores  []StoreSelection    `json:"stores" validate:"required,min=1,dive"`
}

// StoreResult reports how one store's order went. A failed store never
// affects the others.
type StoreResult struct {
	StoreID       uuid.UUID        `json:"store_id"`
	Status        string           `json:"status"`
	OrderID       *uuid.UUID       `json:"order_id,omitempty"`
	StoreSequence int64            `json:"store_sequence,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	Code          pkgerrors.Code   `json:"code,omitempty"`
	Message       string           `json:"message,omitempty"`
	Details       any              `json:"details,omitempty"`
}

// Result lists store outcomes in the order they were requested.
type Result struct {
	Stores    []StoreResult `json:"stores"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Params groups checkout collaborators.
type Params struct {
	Tx       txRunner
	Repo     Repository
	Cart     *cart.Service
	Stores   *stores.Service
	Vouchers *vouchers.Service
	Orders   orders.Repository
	Outbox   outboxPublisher
	Delivery deliveryQuoter
	Currency string
	// Parallelism caps concurrent store units; zero picks a default.
	Parallelism int
	Logger      *logger.Logger
	Metrics     *metrics.Market
}

// Service turns a buyer's cart into one order per store.
type Service struct {
	tx          txRunner
	repo        Repository
	cart        *cart.Service
	stores      *stores.Service
	vouchers    *vouchers.Service
	orders      orders.Repository
	outbox      outboxPublisher
	delivery    deliveryQuoter
	currency    string
	parallelism int
	logg        *logger.Logger
	metrics     *metrics.Market
}

// NewService builds the checkout service. Delivery is optional; without it
// courier orders are placed with a zero delivery price.
func NewService(p Params) (*Service, error) {
	switch {
	case p.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Repo == nil:
		return nil, fmt.Errorf("checkout repository required")
	case p.Cart == nil:
		return nil, fmt.Errorf("cart service required")
	case p.Stores == nil:
		return nil, fmt.Errorf("store service required")
	case p.Vouchers == nil:
		return nil, fmt.Errorf("voucher service required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	currency := strings.TrimSpace(p.Currency)
	if currency == "" {
		currency = "PHP"
	}
	parallelism := p.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Service{
		tx:          p.Tx,
		repo:        p.Repo,
		cart:        p.Cart,
		stores:      p.Stores,
		vouchers:    p.Vouchers,
		orders:      p.Orders,
		outbox:      p.Outbox,
		delivery:    p.Delivery,
		currency:    currency,
		parallelism: parallelism,
		logg:        p.Logger,
		metrics:     p.Metrics,
	}, nil
}

// PlaceOrder runs one transaction per selected store. Units run concurrently
// and independently: a store that fails is reported and leaves its cart
// entries in place while the others commit.
func (s *Service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*Result, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	if len(input.Stores) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "select at least one store")
	}
	if err := input.Dropoff.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid drop-off")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Stores))
	for _, sel := range input.Stores {
		if _, dup := seen[sel.StoreID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("store %s selected twice", sel.StoreID))
		}
		seen[sel.StoreID] = struct{}{}
	}

	groups, err := s.cart.Groups(ctx, input.BuyerID)
	if err != nil {
		return nil, err
	}
	byStore := make(map[uuid.UUID]cart.StoreGroup, len(groups))
	for _, g := range groups {
		byStore[g.StoreID] = g
	}

	results := make([]StoreResult, len(input.Stores))
	unitErrs := make([]error, len(input.Stores))

	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, sel := range input.Stores {
		g.Go(func() error {
			res, err := s.placeForStore(ctx, input, sel, byStore[sel.StoreID])
			results[i] = res
			unitErrs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := &Result{Stores: results}
	var internal error
	for i, res := range results {
		if res.Status == ResultSuccess {
			out.Succeeded++
			s.metrics.CheckoutUnit(ResultSuccess)
			continue
		}
		out.Failed++
		s.metrics.CheckoutUnit(strings.ToLower(string(res.Code)))
		if res.Code == pkgerrors.CodeInternal || res.Code == pkgerrors.CodeDependency {
			internal = multierr.Append(internal, fmt.Errorf("store %s: %w", res.StoreID, unitErrs[i]))
		}
	}
	if internal != nil && s.logg != nil {
		logCtx := s.logg.WithUserID(ctx, input.BuyerID.String())
		s.logg.Error(logCtx, "checkout units failed", internal)
	}
	return out, nil
}

func (s *Service) placeForStore(ctx context.Context, input PlaceOrderInput, sel StoreSelection, group cart.StoreGroup) (StoreResult, error) {
	res := StoreResult{StoreID: sel.StoreID}
	if len(group.Entries) == 0 {
		return failed(res, pkgerrors.New(pkgerrors.CodeValidation, "cart has no items for this store"))
	}

	deliveryPrice := decimal.Zero
	if sel.DeliveryMethod == enums.DeliveryMethodCourier {
		deliveryPrice = s.quoteDelivery(ctx, input, sel, group)
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order = nil
		placed, err := s.placeInTx(ctx, tx, input, sel, deliveryPrice)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return failed(res, unitError(err))
	}

	res.Status = ResultSuccess
	res.OrderID = &order.ID
	res.StoreSequence = order.StoreSequence
	total := order.Total
	res.Total = &total
	return res, nil
}

func (s *Service) placeInTx(ctx context.Context, tx *gorm.DB, input PlaceOrderInput, sel StoreSelection, deliveryPrice decimal.Decimal) (*models.Order, error) {
	store, merchant, err := s.stores.LoadForCheckout(ctx, tx, sel.StoreID)
	if err != nil {
		return nil, err
	}
	if err := s.stores.CheckAcceptance(store, merchant, sel.DeliveryMethod, sel.PaymentMethod); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	buyer, err := repo.FindBuyer(ctx, input.BuyerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("buyer")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load buyer")
	}

	entries, err := s.cart.EntriesForStore(ctx, tx, input.BuyerID, sel.StoreID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no items for this store")
	}

	lines := make([]pricing.Line, len(entries))
	subtotal := decimal.Zero
	for i, e := range entries {
		lines[i] = pricing.Line{UnitPrice: e.UnitPrice, Options: e.Options, Quantity: e.Quantity}
		subtotal = subtotal.Add(pricing.LineTotal(lines[i]))
	}

	in := pricing.Input{
		Lines:         lines,
		FeePercentage: merchant.TransactionFeePct,
		DeliveryPrice: deliveryPrice,
	}
	var orderUsage *int
	if sel.OrderVoucherID != nil {
		applied, err := s.vouchers.Use(ctx, tx, input.BuyerID, *sel.OrderVoucherID, enums.VoucherSlotOrder, subtotal)
		if err != nil {
			return nil, err
		}
		in.OrderVoucher = &applied.Voucher
		orderUsage = &applied.UsageNumber
	}
	if sel.DeliveryVoucherID != nil {
		applied, err := s.vouchers.Use(ctx, tx, input.BuyerID, *sel.DeliveryVoucherID, enums.VoucherSlotDelivery, subtotal)
		if err != nil {
			return nil, err
		}
		in.DeliveryVoucher = &applied.Voucher
	}
	breakdown := pricing.Compute(in)

	storeSeq, err := s.stores.NextSequence(ctx, tx, store.ID)
	if err != nil {
		return nil, err
	}
	buyerSeq, err := repo.NextBuyerSequence(ctx, buyer.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign buyer sequence")
	}

	items := make([]models.OrderLineItem, len(entries))
	consumed := make([]stores.Consumption, len(entries))
	for i, e := range entries {
		items[i] = models.OrderLineItem{
			ItemID:     e.ItemID,
			PageNumber: e.PageNumber,
			Name:       e.Name,
			Quantity:   e.Quantity,
			UnitPrice:  e.UnitPrice,
			Options:    e.Options,
			LineTotal:  breakdown.LineTotals[i],
		}
		consumed[i] = stores.Consumption{ItemID: e.ItemID, Page: e.PageNumber, Quantity: e.Quantity}
	}

	order := &models.Order{
		BuyerID:           buyer.ID,
		StoreID:           store.ID,
		MerchantID:        merchant.ID,
		Status:            enums.OrderStatusPending,
		PaymentMethod:     sel.PaymentMethod,
		DeliveryMethod:    sel.DeliveryMethod,
		Currency:          s.currency,
		Subtotal:          breakdown.Subtotal,
		TransactionFee:    breakdown.TransactionFee,
		DeliveryPrice:     breakdown.DeliveryPrice,
		DeliveryDiscount:  breakdown.DeliveryDiscount,
		OrderDiscount:     breakdown.OrderDiscount,
		Total:             breakdown.Total,
		OrderVoucherID:    sel.OrderVoucherID,
		DeliveryVoucherID: sel.DeliveryVoucherID,
		OrderVoucherUsage: orderUsage,
		ChargeToLedger:    sel.PaymentMethod.IsCOD(),
		StoreSequence:     storeSeq,
		BuyerSequence:     buyerSeq,
		BuyerEmail:        buyer.Email,
		Dropoff:           input.Dropoff,
		Items:             items,
	}
	if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}

	if err := s.stores.ConsumeInventory(ctx, tx, store.ID, consumed); err != nil {
		return nil, err
	}
	if err := s.cart.Remove(ctx, tx, input.BuyerID, entries); err != nil {
		return nil, err
	}

	return order, s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: buyer.ID, StoreID: &store.ID, Role: enums.ActorBuyer},
		Data: payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			StoreID:       store.ID,
			BuyerID:       buyer.ID,
			StoreSequence: order.StoreSequence,
			Total:         order.Total,
			PaymentMethod: order.PaymentMethod,
		},
	})
}

// quoteDelivery prices a courier drop-off before the unit opens its
// transaction. An unavailable quote is recorded as zero and settled when the
// booking is placed.
func (s *Service) quoteDelivery(ctx context.Context, input PlaceOrderInput, sel StoreSelection, group cart.StoreGroup) decimal.Decimal {
	if s.delivery == nil {
		return decimal.Zero
	}
	insured := decimal.Zero
	for _, e := range group.Entries {
		insured = insured.Add(pricing.LineTotal(pricing.Line{UnitPrice: e.UnitPrice, Options: e.Options, Quantity: e.Quantity}))
	}
	quote, err := s.delivery.QuoteForStore(ctx, delivery.QuoteInput{
		StoreID:       sel.StoreID,
		Dropoff:       input.Dropoff,
		InsuredAmount: insured,
		PaymentMethod: sel.PaymentMethod,
		CollectAmount: insured,
	})
	if err == nil && quote.Available {
		return *quote.Price
	}
	if s.logg != nil {
		s.logg.WarnErr(s.logg.WithStoreID(ctx, sel.StoreID.String()), "courier quote unavailable at checkout", err)
	}
	return decimal.Zero
}

func unitError(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	if errors.Is(err, db.ErrStaleWrite) || db.IsRetryable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "store changed during checkout, please retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "place order")
}

func failed(res StoreResult, err error) (StoreResult, error) {
	res.Status = ResultError
	if typed := pkgerrors.As(err); typed != nil {
		res.Code = typed.Code()
		res.Message = typed.Message()
		res.Details = typed.Details()
		if res.Code == pkgerrors.CodeInternal {
			res.Message = "could not place this order"
		}
		return res, err
	}
	res.Code = pkgerrors.CodeInternal
	res.Message = "could not place this order"
	return res, err
}
