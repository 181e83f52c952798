package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

// ProcessorSupport reports whether an online processor can be offered at all.
type ProcessorSupport interface {
	Supports(processorID string) bool
}

// Consumption is the quantity of one catalog item an order takes.
type Consumption struct {
	ItemID   uuid.UUID
	Page     int
	Quantity int
}

// Service exposes store reads and the checks and mutations checkout runs per store.
type Service struct {
	repo       *Repository
	processors ProcessorSupport
}

// NewService builds a store service.
func NewService(repo *Repository, processors ProcessorSupport) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if processors == nil {
		return nil, fmt.Errorf("processor support required")
	}
	return &Service{repo: repo, processors: processors}, nil
}

// GetByID returns the public view of a store.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NotFound("store")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	return FromModel(store), nil
}

// LoadForCheckout reads the store and its merchant inside tx.
func (s *Service) LoadForCheckout(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (*models.Store, *models.Merchant, error) {
	repo := s.repo.WithTx(tx)
	store, err := repo.FindByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "store not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load store")
	}
	merchant, err := repo.FindMerchant(ctx, store.MerchantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "store is not owned by an active merchant")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load merchant")
	}
	return store, merchant, nil
}

// CheckAcceptance validates that store can take an order with the given
// delivery and payment methods.
func (s *Service) CheckAcceptance(store *models.Store, merchant *models.Merchant, delivery enums.DeliveryMethod, payment enums.PaymentMethod) error {
	switch {
	case !store.IsPublic:
		return pkgerrors.New(pkgerrors.CodeValidation, "store is not open to the public")
	case store.VacationMode:
		return pkgerrors.New(pkgerrors.CodeValidation, "store is on vacation")
	case !delivery.IsValid() || !store.DeliveryMethods.Contains(string(delivery)):
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("delivery method %q is not available for this store", delivery))
	case !payment.IsValid() || !store.PaymentMethods.Contains(payment.ActivationKey()):
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment method %q is not available for this store", payment))
	case payment.IsOnline() && !s.processors.Supports(payment.Processor()):
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("payment processor %q is not supported", payment.Processor()))
	case merchant == nil || merchant.ID != store.MerchantID:
		return pkgerrors.New(pkgerrors.CodeValidation, "store is not owned by this merchant")
	case !ledger.AcceptsOrders(*merchant):
		return pkgerrors.New(pkgerrors.CodeValidation, "store is not accepting orders at the moment")
	}
	return nil
}

// NextSequence assigns the store's next order number.
func (s *Service) NextSequence(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (int64, error) {
	seq, err := s.repo.WithTx(tx).NextSequence(ctx, storeID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign store sequence")
	}
	return seq, nil
}

// ConsumeInventory moves quantities from available to consumed, page by page.
// A stale page version surfaces db.ErrStaleWrite so the unit is retried.
func (s *Service) ConsumeInventory(ctx context.Context, tx *gorm.DB, storeID uuid.UUID, items []Consumption) error {
	byPage := map[int][]Consumption{}
	for _, it := range items {
		byPage[it.Page] = append(byPage[it.Page], it)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	repo := s.repo.WithTx(tx)
	for _, page := range pages {
		batch, err := repo.FindBatch(ctx, storeID, page)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("catalog page %d not found", page))
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
		}
		for _, it := range byPage[page] {
			entry, ok := batch.Items[it.ItemID.String()]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s is no longer listed", it.ItemID))
			}
			if entry.Available < it.Quantity {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("only %d of %s left", entry.Available, entry.Name))
			}
			entry.Available -= it.Quantity
			entry.Consumed += it.Quantity
			batch.Items[it.ItemID.String()] = entry
		}
		if err := repo.SaveBatch(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}
