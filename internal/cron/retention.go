package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	defaultOutboxRetention       = 7 * 24 * time.Hour
	defaultNotificationRetention = 30 * 24 * time.Hour
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error)
}

type readNotificationPruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// retentionJob deletes whatever prune considers older than now-retention.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	prune     func(ctx context.Context, cutoff time.Time) (int64, error)
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Debug(j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, "deleted": deleted}), "retention pass done")
	return deleted, nil
}

func newRetentionJob(name string, logg *logger.Logger, retention, fallback time.Duration,
	prune func(context.Context, time.Time) (int64, error)) *retentionJob {
	if retention <= 0 {
		retention = fallback
	}
	return &retentionJob{name: name, logg: logg, retention: retention, prune: prune, now: time.Now}
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	Retention  time.Duration
	// TerminalAttempts matches the publisher's attempt ceiling so parked rows
	// are pruned too; their copy lives on in outbox_dlq.
	TerminalAttempts int
}

// NewOutboxRetentionJob deletes outbox rows that no publisher will touch again.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	var errs []error
	if params.Logger == nil {
		errs = append(errs, errors.New("logger required"))
	}
	if params.DB == nil {
		errs = append(errs, errors.New("db runner required"))
	}
	if params.Repository == nil {
		errs = append(errs, errors.New("outbox repository required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	prune := func(ctx context.Context, cutoff time.Time) (int64, error) {
		var deleted int64
		err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := params.Repository.DeletePublishedBefore(ctx, tx, cutoff, params.TerminalAttempts)
			deleted = rows
			return err
		})
		return deleted, err
	}
	return newRetentionJob("outbox-retention", params.Logger, params.Retention, defaultOutboxRetention, prune), nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository readNotificationPruner
	Retention  time.Duration
}

// NewNotificationCleanupJob drops inbox entries read longer ago than the
// retention. Unread entries are kept regardless of age.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	var errs []error
	if params.Logger == nil {
		errs = append(errs, errors.New("logger required"))
	}
	if params.Repository == nil {
		errs = append(errs, errors.New("notifications repository required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return newRetentionJob("notification-cleanup", params.Logger, params.Retention, defaultNotificationRetention,
		params.Repository.DeleteReadBefore), nil
}
