package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMaintenanceExportsRunsAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMaintenance(reg)
	m.ObserveDuration("outbox-retention", 250*time.Millisecond)
	m.JobResult("outbox-retention", nil)
	m.JobResult("outbox-retention", errors.New("boom"))
	m.RowsAffected("outbox-retention", 7)
	m.RowsAffected("outbox-retention", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := counterValue(mfs, "maintenance_job_runs_total", "result", "failure"); err != nil || got != 1 {
		t.Fatalf("expected one failure, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "maintenance_job_rows_total", "job", "outbox-retention"); err != nil || got != 7 {
		t.Fatalf("expected 7 rows, got %f (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "maintenance_job_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected a duration observation")
	}
}

func TestNilMaintenanceIsNoop(t *testing.T) {
	var m *Maintenance
	m.JobResult("x", nil)
	NewMaintenance(nil).RowsAffected("x", 3)
}
