package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name     string
	affected int64
	err      error
	runs     int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) (int64, error) {
	t.runs++
	return t.affected, t.err
}

type fakeRecorder struct {
	results map[string]error
	rows    map[string]int64
}

func (f *fakeRecorder) ObserveDuration(string, time.Duration) {}

func (f *fakeRecorder) JobResult(job string, err error) { f.results[job] = err }

func (f *fakeRecorder) RowsAffected(job string, n int64) { f.rows[job] += n }

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunCycleRunsEveryJobEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "ok", affected: 3}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	recorder := &fakeRecorder{results: map[string]error{}, rows: map[string]int64{}}
	registry, err := NewRegistry(ok, failing)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: registry,
		Lock:     lock,
		Metrics:  recorder,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 {
		t.Fatalf("expected each job once, got ok=%d fail=%d", ok.runs, failing.runs)
	}
	if recorder.results["ok"] != nil || recorder.results["fail"] == nil {
		t.Fatalf("unexpected recorded results %v", recorder.results)
	}
	if recorder.rows["ok"] != 3 {
		t.Fatalf("expected 3 affected rows, got %d", recorder.rows["ok"])
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released once, got %d", lock.released)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "ok"}
	registry, err := NewRegistry(job)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   quietLogger(),
		Registry: registry,
		Lock:     &fakeLock{held: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: quietLogger()}); err == nil {
		t.Fatal("expected error without lock")
	}
}

func TestRunCycleHonoursCadence(t *testing.T) {
	every := &testJob{name: "expiry"}
	daily := &testJob{name: "retention"}
	flaky := &testJob{name: "cleanup", err: errors.New("db down")}
	registry, err := NewRegistry(every)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if err := registry.Register(daily, 24*time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(flaky, 24*time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	service, err := NewService(ServiceParams{Logger: quietLogger(), Registry: registry, Lock: &fakeLock{}})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := service.runCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		clock = clock.Add(time.Hour)
	}
	if every.runs != 3 || daily.runs != 1 || flaky.runs != 3 {
		t.Fatalf("unexpected runs every=%d daily=%d flaky=%d", every.runs, daily.runs, flaky.runs)
	}

	clock = clock.Add(24 * time.Hour)
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("late cycle: %v", err)
	}
	if daily.runs != 2 {
		t.Fatalf("expected daily job to run again after its window, got %d", daily.runs)
	}
}

type blockingJob struct{}

func (blockingJob) Name() string { return "slow" }

func (blockingJob) Run(ctx context.Context) (int64, error) {
	<-ctx.Done()
	return 0, nil
}

func TestRunJobFailsPastTimeout(t *testing.T) {
	recorder := &fakeRecorder{results: map[string]error{}, rows: map[string]int64{}}
	service, err := NewService(ServiceParams{
		Logger:     quietLogger(),
		Lock:       &fakeLock{},
		Metrics:    recorder,
		JobTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runJob(context.Background(), blockingJob{}); err == nil {
		t.Fatal("expected timeout error")
	}
	if recorder.results["slow"] == nil {
		t.Fatal("timeout not recorded")
	}
}
