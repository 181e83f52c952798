package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Maintenance records runs of the scheduled maintenance jobs.
type Maintenance struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	affected *prometheus.CounterVec
}

// NewMaintenance registers the job collectors on reg. A nil registerer yields a no-op recorder.
func NewMaintenance(reg prometheus.Registerer) *Maintenance {
	if reg == nil {
		return &Maintenance{}
	}
	m := &Maintenance{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maintenance_job_duration_seconds",
			Help:    "Duration of scheduled maintenance jobs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_job_runs_total",
			Help: "Scheduled maintenance job runs by result.",
		}, []string{"job", "result"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_job_rows_total",
			Help: "Rows deleted or orders expired by maintenance jobs.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.duration, m.runs, m.affected)
	return m
}

func (m *Maintenance) ObserveDuration(job string, took time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(took.Seconds())
}

// JobResult counts one run; err decides the result label.
func (m *Maintenance) JobResult(job string, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.runs.WithLabelValues(normalizeLabel(job), result).Inc()
}

func (m *Maintenance) RowsAffected(job string, n int64) {
	if m == nil || m.affected == nil || n <= 0 {
		return
	}
	m.affected.WithLabelValues(normalizeLabel(job)).Add(float64(n))
}
