// Package cron runs the periodic maintenance jobs: outbox retention, inbox
// cleanup and expiry of orders whose payment never arrived.
package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Job is one maintenance task. Run reports how many rows or orders it touched.
type Job interface {
	Name() string
	Run(ctx context.Context) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// entry pairs a job with its minimum spacing. Zero means every cycle.
type entry struct {
	job   Job
	every time.Duration
}

// Registry keeps jobs in registration order with unique names.
type Registry struct {
	entries []entry
	names   map[string]struct{}
}

// NewRegistry registers jobs to run on every cycle. Nil jobs are skipped.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job, 0); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds job, to run at most once per every. Cycles that fall inside
// the window skip it.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if every < 0 {
		return fmt.Errorf("job %s: negative cadence", name)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %s registered twice", name)
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, entry{job: job, every: every})
	return nil
}

// Jobs returns the registered jobs in order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.entries))
	for i, e := range r.entries {
		jobs[i] = e.job
	}
	return jobs
}

// Names lists job names in registration order, for startup logs.
func (r *Registry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.job.Name()
	}
	return names
}

func (r *Registry) schedule() []entry {
	return append([]entry(nil), r.entries...)
}
