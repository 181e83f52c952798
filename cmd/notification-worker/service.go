package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	defaultReadyAttempts = 5
	defaultReadyBackoff  = 500 * time.Millisecond
	maxReadyBackoff      = 10 * time.Second
)

var errConsumerExited = errors.New("notification consumer exited")

type pinger interface {
	Ping(ctx context.Context) error
}

type eventConsumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer eventConsumer
	// Heartbeat re-pings dependencies and logs the outcome; zero disables it.
	Heartbeat time.Duration
	// ReadyAttempts bounds the startup ping rounds before giving up.
	ReadyAttempts uint64
	ReadyBackoff  time.Duration
}

type dependency struct {
	name string
	p    pinger
}

type Service struct {
	logg          *logger.Logger
	dependencies  []dependency
	consumer      eventConsumer
	heartbeat     time.Duration
	readyAttempts uint64
	readyBackoff  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"logger", params.Logger != nil},
		{"database client", params.DB != nil},
		{"redis client", params.Redis != nil},
		{"pubsub client", params.PubSub != nil},
		{"notification consumer", params.NotificationConsumer != nil},
	}
	for _, r := range required {
		if !r.ok {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	s := &Service{
		logg: params.Logger,
		dependencies: []dependency{
			{name: "database", p: params.DB},
			{name: "redis", p: params.Redis},
			{name: "pubsub", p: params.PubSub},
		},
		consumer:      params.NotificationConsumer,
		heartbeat:     params.Heartbeat,
		readyAttempts: params.ReadyAttempts,
		readyBackoff:  params.ReadyBackoff,
	}
	if s.readyAttempts == 0 {
		s.readyAttempts = defaultReadyAttempts
	}
	if s.readyBackoff <= 0 {
		s.readyBackoff = defaultReadyBackoff
	}
	return s, nil
}

// pingAll pings every dependency concurrently and reports each failure.
func (s *Service) pingAll(ctx context.Context) error {
	errs := make([]error, len(s.dependencies))
	var group errgroup.Group
	for i, dep := range s.dependencies {
		group.Go(func() error {
			if err := dep.p.Ping(ctx); err != nil {
				errs[i] = fmt.Errorf("%s ping failed: %w", dep.name, err)
			}
			return nil
		})
	}
	_ = group.Wait()
	return multierr.Combine(errs...)
}

// awaitReady retries pingAll with capped exponential backoff so a worker
// started alongside its dependencies does not crash-loop.
func (s *Service) awaitReady(ctx context.Context) error {
	backoff := retry.WithMaxRetries(s.readyAttempts-1,
		retry.WithCappedDuration(maxReadyBackoff, retry.NewExponential(s.readyBackoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.pingAll(ctx); err != nil {
			s.logg.WarnErr(ctx, "worker dependencies not ready", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("dependencies not ready: %w", err)
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until the consumer stops or ctx is canceled. A consumer that
// returns without error is still treated as a failure.
func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitReady(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.consumer.Run(groupCtx)
		if err == nil {
			return errConsumerExited
		}
		return err
	})
	if s.heartbeat > 0 {
		group.Go(func() error { return s.beat(groupCtx) })
	}

	err := group.Wait()
	switch {
	case ctx.Err() != nil:
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err != nil:
		s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	}
	return err
}

// beat never fails the worker; a lost dependency surfaces as consumer errors.
func (s *Service) beat(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.pingAll(ctx); err != nil {
				s.logg.WarnErr(ctx, "worker heartbeat degraded", err)
				continue
			}
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
