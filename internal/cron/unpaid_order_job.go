package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	defaultUnpaidTTL   = 24 * time.Hour
	defaultExpiryBatch = 100
)

type unpaidOrderReader interface {
	ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type unpaidOrderExpirer interface {
	ExpireUnpaid(ctx context.Context, orderID uuid.UUID) (bool, error)
}

type UnpaidOrderJobParams struct {
	Logger  *logger.Logger
	Orders  unpaidOrderReader
	Expirer unpaidOrderExpirer
	// TTL is how long an online order may wait for its payment callback.
	TTL       time.Duration
	BatchSize int
}

// NewUnpaidOrderJob cancels online orders whose payment never settled.
func NewUnpaidOrderJob(params UnpaidOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultUnpaidTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &unpaidOrderJob{
		logg:    params.Logger,
		orders:  params.Orders,
		expirer: params.Expirer,
		ttl:     ttl,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type unpaidOrderJob struct {
	logg    *logger.Logger
	orders  unpaidOrderReader
	expirer unpaidOrderExpirer
	ttl     time.Duration
	batch   int
	now     func() time.Time
}

func (j *unpaidOrderJob) Name() string { return "unpaid-order-expiry" }

// Run expires one batch per cycle. Each order commits on its own so one
// failure does not roll back the rest.
func (j *unpaidOrderJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.ttl)
	due, err := j.orders.ListUnpaidBefore(ctx, cutoff, j.batch)
	if err != nil {
		return 0, fmt.Errorf("list unpaid orders: %w", err)
	}

	var (
		expired int64
		errs    error
	)
	for _, order := range due {
		ok, err := j.expirer.ExpireUnpaid(ctx, order.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	if len(due) == j.batch {
		j.logg.Info(j.logg.WithField(ctx, "batch", j.batch), "unpaid order backlog exceeds one batch")
	}
	return expired, errs
}
