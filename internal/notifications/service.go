package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

// Service is the merchant inbox as seen by the signed-in owner.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, ownerUserID, notificationID uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, ownerUserID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

type ListParams struct {
	OwnerUserID uuid.UUID
	Limit       int
	Cursor      string
	UnreadOnly  bool
}

// ListResult is one page of the inbox. Unread counts the whole inbox, not
// just this page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
	Unread int64                 `json:"unread"`
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listNotificationsParams{Limit: params.Limit, UnreadOnly: params.UnreadOnly}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	merchantID, err := s.merchant(ctx, params.OwnerUserID)
	if err != nil {
		return nil, err
	}
	query.MerchantID = merchantID

	result := &ListResult{Items: []models.Notification{}}
	var next *pagination.Cursor
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		rows, cursor, err := s.repo.List(groupCtx, query)
		if err != nil {
			return err
		}
		if rows != nil {
			result.Items = rows
		}
		next = cursor
		return nil
	})
	group.Go(func() error {
		unread, err := s.repo.CountUnread(groupCtx, merchantID)
		result.Unread = unread
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// MarkRead is idempotent: a second call keeps the first read time.
func (s *service) MarkRead(ctx context.Context, ownerUserID, notificationID uuid.UUID) (*models.Notification, error) {
	if notificationID == uuid.Nil {
		return nil, pkgerrors.Validation("notification id required", map[string]string{"notificationId": "required"})
	}
	merchantID, err := s.merchant(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}

	notification, err := s.repo.MarkRead(ctx, merchantID, notificationID, s.now())
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.NotFound("notification")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	return notification, nil
}

func (s *service) MarkAllRead(ctx context.Context, ownerUserID uuid.UUID) (int64, error) {
	merchantID, err := s.merchant(ctx, ownerUserID)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.MarkAllRead(ctx, merchantID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

// merchant resolves the inbox owned by ownerUserID.
func (s *service) merchant(ctx context.Context, ownerUserID uuid.UUID) (uuid.UUID, error) {
	if ownerUserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "merchant owner required")
	}
	merchantID, err := s.repo.MerchantForOwner(ctx, ownerUserID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "no merchant account for this user")
	case err != nil:
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load merchant")
	}
	return merchantID, nil
}
