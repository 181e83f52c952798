package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketcore-backend/internal/bootstrap"
	"github.com/angelmondragon/marketcore-backend/internal/cron"
	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/notifications"
	"github.com/angelmondragon/marketcore-backend/internal/orders"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
)

func main() {
	bootstrap.Main("cron-worker", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	store, err := rt.Secrets(ctx)
	if err != nil {
		return err
	}
	registry, err := buildJobs(cfg, rt.Logger, rt.DB, store)
	if err != nil {
		return fmt.Errorf("maintenance jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Maintenance.LockTTL)
	if err != nil {
		return fmt.Errorf("scheduler lock: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     rt.Logger,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewMaintenance(promRegistry),
		Interval:   cfg.Maintenance.Interval,
		JobTimeout: cfg.Maintenance.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	ctx = rt.Logger.WithFields(ctx, map[string]any{
		"interval": cfg.Maintenance.Interval.String(),
		"jobs":     registry.Names(),
	})
	rt.Logger.Info(ctx, "starting cron worker")
	return bootstrap.Supervise(ctx, rt.Logger, cfg.App.Port, bootstrap.OpsRouter(promRegistry), service.Run)
}

// buildJobs wires the order service the same way the API does so expiry
// emits the usual cancellation events and voids the lapsed link.
func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, store secrets.Store) (*cron.Registry, error) {
	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	gateway, err := paygate.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretName, store, paygate.WithVoidURL(cfg.Payment.VoidURL))
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	links, err := payments.NewLinks(payments.NewRepository(conn), dbClient, gateway, cfg.Payment, logg)
	if err != nil {
		return nil, err
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), emitter, logg)
	if err != nil {
		return nil, err
	}
	orderRepo := orders.NewRepository(conn)
	orderService, err := orders.NewService(orderRepo, dbClient, emitter, ledgerService, links, logg,
		orders.WithPaymentVoider(links))
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outbox.NewRepository(conn),
		Retention:        cfg.Maintenance.OutboxRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(conn),
		Retention:  cfg.Maintenance.NotificationRetention,
	})
	if err != nil {
		return nil, err
	}
	expiry, err := cron.NewUnpaidOrderJob(cron.UnpaidOrderJobParams{
		Logger:    logg,
		Orders:    orderRepo,
		Expirer:   orderService,
		TTL:       cfg.Maintenance.UnpaidOrderTTL,
		BatchSize: cfg.Maintenance.ExpiryBatchSize,
	})
	if err != nil {
		return nil, err
	}
	registry, err := cron.NewRegistry(expiry)
	if err != nil {
		return nil, err
	}
	for _, job := range []cron.Job{retention, cleanup} {
		if err := registry.Register(job, cfg.Maintenance.CleanupEvery); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "maintenance:" + env
}
