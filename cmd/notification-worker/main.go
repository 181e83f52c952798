package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketcore-backend/internal/bootstrap"
	"github.com/angelmondragon/marketcore-backend/internal/notifications"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/registry"
)

func main() {
	bootstrap.Main("notification-worker", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	pubsubClient, err := rt.PubSub(ctx, cfg.PubSub.NotificationSubscription)
	if err != nil {
		return err
	}
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	manager, err := idempotency.NewManager(redisClient, cfg.Outbox.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}

	consumer, err := notifications.NewConsumer(
		notifications.NewRepository(rt.DB.DB()),
		pubsubClient.NotificationSubscription(),
		eventRegistry,
		manager,
		notifications.NewLogSender(rt.Logger),
		rt.Logger,
	)
	if err != nil {
		return fmt.Errorf("notification consumer: %w", err)
	}

	service, err := NewService(ServiceParams{
		Logger:               rt.Logger,
		DB:                   rt.DB,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		NotificationConsumer: consumer,
		Heartbeat:            time.Minute,
	})
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	ctx = rt.Logger.WithField(ctx, "subscription", cfg.PubSub.NotificationSubscription)
	rt.Logger.Info(ctx, "starting notification worker")
	return service.Run(ctx)
}
