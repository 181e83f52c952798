package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

// Repository exposes persistence helpers for the merchant inbox.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) (bool, error)
	MerchantForStore(ctx context.Context, storeID uuid.UUID) (uuid.UUID, error)
	MerchantForOwner(ctx context.Context, ownerUserID uuid.UUID) (uuid.UUID, error)
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, merchantID, notificationID uuid.UUID, now time.Time) (*models.Notification, error)
	CountUnread(ctx context.Context, merchantID uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, merchantID uuid.UUID, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	MerchantID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

// Create inserts the notification unless one already exists for its event.
// It reports whether a row was written.
func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(notification)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repositoryImpl) MerchantForStore(ctx context.Context, storeID uuid.UUID) (uuid.UUID, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Select("merchant_id").Where("id = ?", storeID).First(&store).Error; err != nil {
		return uuid.Nil, err
	}
	return store.MerchantID, nil
}

func (r *repositoryImpl) MerchantForOwner(ctx context.Context, ownerUserID uuid.UUID) (uuid.UUID, error) {
	var merchant models.Merchant
	if err := r.db.WithContext(ctx).Select("id").Where("owner_user_id = ?", ownerUserID).First(&merchant).Error; err != nil {
		return uuid.Nil, err
	}
	return merchant.ID, nil
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("merchant_id = ?", params.MerchantID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	if err := pagination.After(query, params.Cursor, params.Limit).Find(&notifications).Error; err != nil {
		return nil, nil, err
	}
	notifications, next := pagination.Trim(notifications, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return notifications, next, nil
}

// MarkRead stamps read_at once and returns the row. A notification owned by
// another merchant is reported as gorm.ErrRecordNotFound.
func (r *repositoryImpl) MarkRead(ctx context.Context, merchantID, notificationID uuid.UUID, now time.Time) (*models.Notification, error) {
	scoped := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ? AND merchant_id = ?", notificationID, merchantID)
	}
	if err := scoped().Where("read_at IS NULL").UpdateColumn("read_at", now).Error; err != nil {
		return nil, err
	}
	var notification models.Notification
	if err := scoped().First(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *repositoryImpl) CountUnread(ctx context.Context, merchantID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("merchant_id = ? AND read_at IS NULL", merchantID).
		Count(&count).Error
	return count, err
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, merchantID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("merchant_id = ? AND read_at IS NULL", merchantID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// DeleteReadBefore drops inbox entries that were read before cutoff.
func (r *repositoryImpl) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
