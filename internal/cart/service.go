package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

// StoreGroup is the slice of a cart that belongs to one store.
type StoreGroup struct {
	StoreID uuid.UUID
	Entries []models.CartEntry
}

// Service reads and trims buyer carts.
type Service struct {
	repo *Repository
}

// NewService builds a cart service backed by repo.
func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	return &Service{repo: repo}, nil
}

// AddEntryInput is one item a buyer drops into the cart.
type AddEntryInput struct {
	StoreID    uuid.UUID
	ItemID     uuid.UUID
	PageNumber int
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	Options    []models.OptionSurcharge
}

// AddEntry stores a cart entry for buyerID.
func (s *Service) AddEntry(ctx context.Context, buyerID uuid.UUID, input AddEntryInput) (*models.CartEntry, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	entry := &models.CartEntry{
		BuyerID:    buyerID,
		StoreID:    input.StoreID,
		ItemID:     input.ItemID,
		PageNumber: input.PageNumber,
		Name:       input.Name,
		Quantity:   input.Quantity,
		UnitPrice:  input.UnitPrice,
		Options:    input.Options,
	}
	if err := s.repo.Add(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add cart entry")
	}
	return entry, nil
}

// Groups returns the buyer's cart split by store.
func (s *Service) Groups(ctx context.Context, buyerID uuid.UUID) ([]StoreGroup, error) {
	entries, err := s.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	return GroupByStore(entries), nil
}

// EntriesForStore loads the buyer's entries for storeID inside tx.
func (s *Service) EntriesForStore(ctx context.Context, tx *gorm.DB, buyerID, storeID uuid.UUID) ([]models.CartEntry, error) {
	entries, err := s.repo.WithTx(tx).ListForStore(ctx, buyerID, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart entries")
	}
	return entries, nil
}

// Remove deletes the checked-out entries inside tx. A mismatch means another
// checkout already consumed part of the cart.
func (s *Service) Remove(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, entries []models.CartEntry) error {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	removed, err := s.repo.WithTx(tx).RemoveEntries(ctx, buyerID, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart entries")
	}
	if removed != int64(len(ids)) {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart changed during checkout")
	}
	return nil
}

// GroupByStore splits entries per store, keeping entry order and ordering the
// groups by first appearance.
func GroupByStore(entries []models.CartEntry) []StoreGroup {
	index := map[uuid.UUID]int{}
	var groups []StoreGroup
	for _, e := range entries {
		i, ok := index[e.StoreID]
		if !ok {
			i = len(groups)
			index[e.StoreID] = i
			groups = append(groups, StoreGroup{StoreID: e.StoreID})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}
	return groups
}
