package ledger

import (
	"context"
	"errors"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists merchant balances and their entry history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Merchant, error)
	FindMerchantByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Merchant, error)
	InsertEntry(ctx context.Context, entry *models.MerchantLedgerEntry) (bool, error)
	AdjustBalance(ctx context.Context, merchantID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	SetEntryBalance(ctx context.Context, entryID uuid.UUID, balance decimal.Decimal) error
	SetThresholdReached(ctx context.Context, merchantID uuid.UUID, reached bool) error
	ListEntries(ctx context.Context, merchantID uuid.UUID, params pagination.Params) ([]models.MerchantLedgerEntry, string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Merchant, error) {
	var m models.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", merchantID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) FindMerchantByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Merchant, error) {
	var m models.Merchant
	if err := r.db.WithContext(ctx).Where("owner_user_id = ?", ownerUserID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertEntry reports false when the (merchant, key) pair was already applied.
func (r *repository) InsertEntry(ctx context.Context, entry *models.MerchantLedgerEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AdjustBalance applies delta as a SQL increment and returns the new balance.
func (r *repository) AdjustBalance(ctx context.Context, merchantID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return decimal.Zero, res.Error
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	var m models.Merchant
	if err := r.db.WithContext(ctx).Select("balance").Where("id = ?", merchantID).First(&m).Error; err != nil {
		return decimal.Zero, err
	}
	return m.Balance, nil
}

func (r *repository) SetEntryBalance(ctx context.Context, entryID uuid.UUID, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.MerchantLedgerEntry{}).
		Where("id = ?", entryID).
		Update("balance_after", balance).Error
}

// SetThresholdReached stores the marker on the merchant and every store it owns.
func (r *repository) SetThresholdReached(ctx context.Context, merchantID uuid.UUID, reached bool) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		Update("threshold_reached", reached).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("merchant_id = ?", merchantID).
		Update("credit_threshold_reached", reached).Error
}

func (r *repository) ListEntries(ctx context.Context, merchantID uuid.UUID, params pagination.Params) ([]models.MerchantLedgerEntry, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	q := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID)

	var entries []models.MerchantLedgerEntry
	if err := pagination.After(q, cursor, params.Limit).Find(&entries).Error; err != nil {
		return nil, "", err
	}
	entries, next := pagination.Trim(entries, params.Limit, func(e models.MerchantLedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return entries, pagination.Next(next), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
