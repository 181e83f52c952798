package stores

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles store and inventory persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to store operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindByID loads a store by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// FindMerchant loads the merchant that owns a store.
func (r *Repository) FindMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Merchant, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", merchantID).First(&merchant).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

// NextSequence bumps the store's order counter by one and returns the new value.
func (r *Repository) NextSequence(ctx context.Context, storeID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ?", storeID).
		Update("order_counter", gorm.Expr("order_counter + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var store models.Store
	if err := r.db.WithContext(ctx).Select("order_counter").Where("id = ?", storeID).First(&store).Error; err != nil {
		return 0, err
	}
	return store.OrderCounter, nil
}

// FindBatch loads one catalog page.
func (r *Repository) FindBatch(ctx context.Context, storeID uuid.UUID, page int) (*models.InventoryBatch, error) {
	var batch models.InventoryBatch
	if err := r.db.WithContext(ctx).
		Where("store_id = ? AND page_number = ?", storeID, page).
		First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// SaveBatch writes items back when the page still carries the version it was read at.
func (r *Repository) SaveBatch(ctx context.Context, batch *models.InventoryBatch) error {
	items, err := json.Marshal(batch.Items)
	if err != nil {
		return fmt.Errorf("encode inventory items: %w", err)
	}
	res := r.db.WithContext(ctx).
		Model(&models.InventoryBatch{}).
		Where("id = ? AND version = ?", batch.ID, batch.Version).
		Updates(map[string]any{
			"items":   string(items),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("save inventory batch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrStaleWrite
	}
	batch.Version++
	return nil
}
