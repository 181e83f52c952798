package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeReadPruner struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeReadPruner) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeOutboxPruner struct {
	cutoff   time.Time
	terminal int
	inTx     bool
	err      error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts int) (int64, error) {
	f.inTx = tx != nil
	f.cutoff = cutoff
	f.terminal = terminalAttempts
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

// recordingTx hands the callback a non-nil handle so the job's use of the
// transaction is observable.
type recordingTx struct{ calls int }

func (r *recordingTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	return fn(&gorm.DB{})
}

func pinClock(t *testing.T, job Job, now time.Time) {
	t.Helper()
	rj, ok := job.(*retentionJob)
	require.True(t, ok)
	rj.now = func() time.Time { return now }
}

func TestOutboxRetentionPrunesInsideTransaction(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxPruner{}
	tx := &recordingTx{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:           quietLogger(),
		DB:               tx,
		Repository:       repo,
		TerminalAttempts: 10,
	})
	require.NoError(t, err)
	pinClock(t, job, now)

	deleted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, deleted)
	assert.Equal(t, "outbox-retention", job.Name())
	assert.Equal(t, now.Add(-defaultOutboxRetention), repo.cutoff)
	assert.Equal(t, 10, repo.terminal)
	assert.True(t, repo.inTx)
	assert.Equal(t, 1, tx.calls)
}

func TestNotificationCleanupUsesConfiguredRetention(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	repo := &fakeReadPruner{deleted: 42}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     quietLogger(),
		Repository: repo,
		Retention:  48 * time.Hour,
	})
	require.NoError(t, err)
	pinClock(t, job, now)

	deleted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, deleted)
	assert.Equal(t, now.Add(-48*time.Hour), repo.cutoff)
}

func TestRetentionJobsWrapPruneErrors(t *testing.T) {
	outboxJob, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     quietLogger(),
		DB:         &recordingTx{},
		Repository: &fakeOutboxPruner{err: errors.New("boom")},
	})
	require.NoError(t, err)
	inboxJob, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     quietLogger(),
		Repository: &fakeReadPruner{err: errors.New("boom")},
	})
	require.NoError(t, err)

	for _, job := range []Job{outboxJob, inboxJob} {
		_, err := job.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), job.Name()+": boom")
	}
}

func TestRetentionConstructorsReportEveryMissingDependency(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger required")
	assert.Contains(t, err.Error(), "db runner required")
	assert.Contains(t, err.Error(), "outbox repository required")

	_, err = NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: quietLogger()})
	assert.EqualError(t, err, "notifications repository required")
}
