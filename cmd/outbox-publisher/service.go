package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultConcurrency    = 8
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicPublisher interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publishRecorder interface {
	OutboxPublish(eventType, result string)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	PubSub        topicPublisher
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Metrics       publishRecorder
}

// Service drains the outbox table into Pub/Sub. Rows are claimed with
// SKIP LOCKED inside one transaction, published concurrently, then settled
// in claim order before the transaction commits.
type Service struct {
	logg     *logger.Logger
	db       dbClient
	repo     outboxRepository
	pubsub   topicPublisher
	registry registryResolver
	dlq      dlqRepository
	metrics  publishRecorder

	batchSize    int
	maxAttempts  int
	concurrency  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	for _, dep := range []struct {
		name string
		ok   bool
	}{
		{"config", params.Config != nil},
		{"logger", params.Logger != nil},
		{"database client", params.DB != nil},
		{"pubsub client", params.PubSub != nil},
		{"outbox repository", params.Repository != nil},
		{"event registry", params.Registry != nil},
		{"dlq repository", params.DLQRepository != nil},
	} {
		if !dep.ok {
			return nil, fmt.Errorf("%s is required", dep.name)
		}
	}

	cfg := params.Config.Outbox
	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		concurrency:  positiveOr(cfg.PublishConcurrency, defaultConcurrency),
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}
	if svc.pollInterval <= 0 {
		svc.pollInterval = defaultPollInterval
	}
	return svc, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, "pubsub": s.pubsub.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

func (s *Service) newBackoff() retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(s.pollInterval)))
}

// Run drains the outbox until ctx is cancelled. A full batch loops straight
// away, an empty poll sleeps one interval and a failed batch backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.newBackoff()
	for {
		if ctx.Err() != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			delay, stop := backoff.Next()
			if stop {
				backoff, delay = s.newBackoff(), maxBackoff
			}
			wait = delay
		case processed:
			backoff = s.newBackoff()
			continue
		default:
			backoff = s.newBackoff()
			wait = s.pollInterval
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

type result string

const (
	resultPublished    result = "published"
	resultRetry        result = "retry"
	resultDeadLettered result = "dead_lettered"
)

// delivery is the outcome of one claimed row before it is written back.
type delivery struct {
	event    models.OutboxEvent
	envelope outbox.PayloadEnvelope
	topic    string
	result   result
	reason   string
	err      error
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0

		for _, d := range s.deliver(ctx, events) {
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// deliver publishes every resolvable event with bounded concurrency. Each
// goroutine writes only its own slot.
func (s *Service) deliver(ctx context.Context, events []models.OutboxEvent) []delivery {
	out := make([]delivery, len(events))
	var group errgroup.Group
	group.SetLimit(s.concurrency)

	for i, event := range events {
		out[i] = delivery{event: event}
		resolved, err := s.registry.Resolve(event)
		if err != nil {
			out[i].result, out[i].reason, out[i].err = resultDeadLettered, outbox.DLQReasonNonRetryable, err
			continue
		}
		out[i].envelope = resolved.Envelope
		out[i].topic = resolved.Descriptor.Topic

		d := &out[i]
		group.Go(func() error {
			d.err = s.publish(ctx, d)
			d.result, d.reason = s.classify(d.event, d.err)
			return nil
		})
	}
	_ = group.Wait()
	return out
}

func (s *Service) classify(event models.OutboxEvent, err error) (result, string) {
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		return resultPublished, ""
	case errors.As(err, &nonRetry):
		return resultDeadLettered, outbox.DLQReasonNonRetryable
	case event.AttemptCount+1 >= s.maxAttempts:
		return resultDeadLettered, outbox.DLQReasonMaxAttempts
	default:
		return resultRetry, ""
	}
}

func (s *Service) publish(ctx context.Context, d *delivery) error {
	if d.topic == "" {
		return registry.NewNonRetryableError(fmt.Errorf("no topic configured for %s", d.event.EventType))
	}
	attrs := map[string]string{
		"event_id":       d.envelope.EventID,
		"event_type":     string(d.event.EventType),
		"aggregate_type": string(d.event.AggregateType),
		"aggregate_id":   d.event.AggregateID.String(),
		"created_at":     d.event.CreatedAt.Format(time.RFC3339Nano),
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err := s.pubsub.Publish(publishCtx, d.topic, d.event.Payload, attrs)
	return err
}

// settle records d on its row. Only bookkeeping failures are returned; they
// roll the batch back so every row is retried.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	event := d.event
	logCtx := s.logg.WithFields(ctx, s.fields(d))

	switch d.result {
	case resultPublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
	case resultRetry:
		s.logg.WarnErr(logCtx, "outbox publish failed", d.err)
		if err := s.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	case resultDeadLettered:
		cause := d.err
		if d.reason == outbox.DLQReasonMaxAttempts {
			cause = fmt.Errorf("max publish attempts reached: %w", d.err)
		}
		s.logg.WarnErr(logCtx, "outbox event will not be retried", cause)
		if err := s.dlq.InsertTx(tx, deadLetter(event, d.reason, cause)); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.OutboxPublish(string(event.EventType), string(d.result))
	}
	return nil
}

func deadLetter(event models.OutboxEvent, reason string, cause error) models.OutboxDLQ {
	msg := cause.Error()
	return models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
}

func (s *Service) fields(d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      d.event.ID.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID.String(),
		"attempt_count":  d.event.AttemptCount + 1,
		"result":         string(d.result),
	}
	if d.envelope.EventID != "" {
		fields["event_id"] = d.envelope.EventID
		fields["occurred_at"] = d.envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
