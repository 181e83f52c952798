package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
)

// Repository exposes the buyer reads and counters checkout needs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Buyer, error)
	NextBuyerSequence(ctx context.Context, buyerID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by db.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBuyer(ctx context.Context, buyerID uuid.UUID) (*models.Buyer, error) {
	var buyer models.Buyer
	if err := r.db.WithContext(ctx).Where("id = ?", buyerID).First(&buyer).Error; err != nil {
		return nil, err
	}
	return &buyer, nil
}

// NextBuyerSequence bumps the buyer's order counter by delta and returns the
// new value, so concurrent store units never hand out the same number.
func (r *repository) NextBuyerSequence(ctx context.Context, buyerID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Buyer{}).
		Where("id = ?", buyerID).
		Update("order_counter", gorm.Expr("order_counter + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	var buyer models.Buyer
	if err := r.db.WithContext(ctx).Select("order_counter").Where("id = ?", buyerID).First(&buyer).Error; err != nil {
		return 0, err
	}
	return buyer.OrderCounter, nil
}
