package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

// Repository persists payment transactions and disbursement aggregates.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a payments repository to the provided GORM DB.
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

// FindTransaction returns the transaction or nil when it does not exist.
func (r *Repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// TransitionTransaction updates the row only while it still carries from.
func (r *Repository) TransitionTransaction(ctx context.Context, id uuid.UUID, from enums.PaymentStatus, updates map[string]any) error {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return db.ErrStaleWrite
	}
	return nil
}

func (r *Repository) FindMerchant(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	var m models.Merchant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) FindMerchantByOwner(ctx context.Context, ownerUserID uuid.UUID) (*models.Merchant, error) {
	var m models.Merchant
	if err := r.db.WithContext(ctx).Where("owner_user_id = ?", ownerUserID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// AddToDisbursement folds one settled payment into the merchant's period row.
func (r *Repository) AddToDisbursement(ctx context.Context, merchantID uuid.UUID, periodKey string, gross, fee decimal.Decimal) error {
	row := models.DisbursementPeriod{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		PeriodKey:        periodKey,
		TransactionCount: 1,
		GrossAmount:      gross,
		ProcessorFee:     fee,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "merchant_id"}, {Name: "period_key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"transaction_count": gorm.Expr("disbursement_periods.transaction_count + 1"),
			"gross_amount":      gorm.Expr("disbursement_periods.gross_amount + ?", gross),
			"processor_fee":     gorm.Expr("disbursement_periods.processor_fee + ?", fee),
			"updated_at":        time.Now().UTC(),
		}),
	}).Create(&row).Error
}

// FindDisbursement returns the merchant's aggregate for periodKey, or nil.
func (r *Repository) FindDisbursement(ctx context.Context, merchantID uuid.UUID, periodKey string) (*models.DisbursementPeriod, error) {
	var row models.DisbursementPeriod
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND period_key = ?", merchantID, periodKey).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
