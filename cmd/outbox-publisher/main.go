package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketcore-backend/internal/bootstrap"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/registry"
)

func main() {
	var dlqCmd dlqCommand
	flag.BoolVar(&dlqCmd.list, "dlq", false, "print dead-lettered events and exit")
	flag.StringVar(&dlqCmd.reason, "dlq-reason", "", "filter -dlq by reason (non_retryable|max_attempts)")
	flag.IntVar(&dlqCmd.limit, "dlq-limit", 50, "max rows printed by -dlq")
	flag.StringVar(&dlqCmd.requeue, "requeue", "", "comma-separated event IDs to move from the DLQ back to the outbox, then exit")
	flag.Parse()

	bootstrap.Main("outbox-publisher", func(ctx context.Context, rt *bootstrap.Runtime) error {
		return run(ctx, rt, dlqCmd)
	})
}

func run(ctx context.Context, rt *bootstrap.Runtime, dlqCmd dlqCommand) error {
	dlqRepo := outbox.NewDLQRepository(rt.DB.DB())
	if dlqCmd.requested() {
		if err := dlqCmd.run(ctx, dlqRepo, os.Stdout); err != nil {
			return fmt.Errorf("dlq command: %w", err)
		}
		return nil
	}

	pubsubClient, err := rt.PubSub(ctx)
	if err != nil {
		return err
	}
	eventRegistry, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:        rt.Config,
		Logger:        rt.Logger,
		DB:            rt.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewMarket(promRegistry),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	ctx = rt.Logger.WithField(ctx, "topics", eventRegistry.Topics())
	rt.Logger.Info(ctx, "starting outbox publisher")
	return bootstrap.Supervise(ctx, rt.Logger, rt.Config.App.Port, bootstrap.OpsRouter(promRegistry), service.Run)
}
