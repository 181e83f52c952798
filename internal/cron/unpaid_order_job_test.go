package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
)

type fakeUnpaidOrders struct {
	orders []models.Order
	cutoff time.Time
	limit  int
}

func (f *fakeUnpaidOrders) ListUnpaidBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.orders, nil
}

type fakeExpirer struct {
	results map[uuid.UUID]bool
	fail    map[uuid.UUID]error
	calls   []uuid.UUID
}

func (f *fakeExpirer) ExpireUnpaid(_ context.Context, orderID uuid.UUID) (bool, error) {
	f.calls = append(f.calls, orderID)
	if err := f.fail[orderID]; err != nil {
		return false, err
	}
	return f.results[orderID], nil
}

func TestUnpaidOrderJobExpiresEachOrderIndependently(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	reader := &fakeUnpaidOrders{orders: []models.Order{{ID: a}, {ID: b}, {ID: c}}}
	expirer := &fakeExpirer{
		results: map[uuid.UUID]bool{a: true, c: false},
		fail:    map[uuid.UUID]error{b: errors.New("stale write")},
	}
	jobIface, err := NewUnpaidOrderJob(UnpaidOrderJobParams{
		Logger:  quietLogger(),
		Orders:  reader,
		Expirer: expirer,
		TTL:     2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewUnpaidOrderJob: %v", err)
	}
	job := jobIface.(*unpaidOrderJob)
	job.now = func() time.Time { return now }

	expired, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed order to surface")
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired order, got %d", expired)
	}
	if len(expirer.calls) != 3 {
		t.Fatalf("expected every order attempted, got %d", len(expirer.calls))
	}
	if want := now.Add(-2 * time.Hour); !reader.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, reader.cutoff)
	}
	if reader.limit != defaultExpiryBatch {
		t.Fatalf("expected default batch, got %d", reader.limit)
	}
}
