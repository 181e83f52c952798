package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 5 * time.Minute
)

type jobRecorder interface {
	ObserveDuration(job string, took time.Duration)
	JobResult(job string, err error)
	RowsAffected(job string, n int64)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  jobRecorder
	Interval time.Duration
	// JobTimeout caps a single job so one slow job cannot outlive the lease.
	JobTimeout time.Duration
}

// Service runs the registered jobs once per interval while holding the
// cluster-wide lock. A failing job never stops the others.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    jobRecorder
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time

	// lastOK is local to this process; another replica taking the lock
	// starts with an empty map and runs everything once.
	lastOK map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{names: map[string]struct{}{}}
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
		lastOK:     map[string]time.Time{},
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = defaultJobTimeout
	}
	return svc, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.cycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "maintenance scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Service) cycle(ctx context.Context) {
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "maintenance cycle failed", err)
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "another scheduler holds the lock; skipping cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release maintenance lock", relErr)
		}
	}()

	ran := 0
	for _, e := range s.registry.schedule() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.due(e) {
			continue
		}
		ran++
		if s.runJob(ctx, e.job) == nil {
			s.lastOK[e.job.Name()] = s.now()
		}
	}
	s.logg.Debug(s.logg.WithField(ctx, "jobs_run", ran), "maintenance cycle finished")
	return nil
}

// due reports whether e's cadence window has passed since its last success.
// Failed runs are retried on the next cycle.
func (s *Service) due(e entry) bool {
	if e.every <= 0 {
		return true
	}
	last, ok := s.lastOK[e.job.Name()]
	return !ok || s.now().Sub(last) >= e.every
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", job.Name()), s.jobTimeout)
	defer cancel()

	start := time.Now()
	affected, err := job.Run(jobCtx)
	took := time.Since(start)
	if err == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded %s", s.jobTimeout)
	}

	if s.metrics != nil {
		s.metrics.ObserveDuration(job.Name(), took)
		s.metrics.JobResult(job.Name(), err)
		s.metrics.RowsAffected(job.Name(), affected)
	}

	logCtx := s.logg.WithFields(jobCtx, map[string]any{
		"duration_ms": took.Milliseconds(),
		"affected":    affected,
	})
	if err != nil {
		s.logg.Error(logCtx, "job failed", err)
		return err
	}
	s.logg.Info(logCtx, "job completed")
	return nil
}
