package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
)

// Repository persists cart entries.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a cart repository to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// ListByBuyer returns every entry in the buyer's cart, oldest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CartEntry, error) {
	var entries []models.CartEntry
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ListForStore returns the buyer's entries for a single store.
func (r *Repository) ListForStore(ctx context.Context, buyerID, storeID uuid.UUID) ([]models.CartEntry, error) {
	var entries []models.CartEntry
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND store_id = ?", buyerID, storeID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// Add inserts a new entry.
func (r *Repository) Add(ctx context.Context, entry *models.CartEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// RemoveEntries deletes the listed entries of the buyer and reports how many went.
func (r *Repository) RemoveEntries(ctx context.Context, buyerID uuid.UUID, entryIDs []uuid.UUID) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("buyer_id = ? AND id IN ?", buyerID, entryIDs).
		Delete(&models.CartEntry{})
	return res.RowsAffected, res.Error
}
