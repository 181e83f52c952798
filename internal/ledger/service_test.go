package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

var _ outboxPublisher = (*outbox.Service)(nil)

type ledgerFixture struct {
	db       *gorm.DB
	svc      *Service
	merchant models.Merchant
	storeIDs []uuid.UUID
}

func newLedgerFixture(t *testing.T, balance, threshold string) *ledgerFixture {
	t.Helper()
	conn, _ := dbtest.Open(t, &models.Merchant{}, &models.MerchantLedgerEntry{}, &models.Store{}, &models.OutboxEvent{})

	merchant := models.Merchant{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Email:       "shop@example.com",
		Balance:     decimal.RequireFromString(balance),
		Threshold:   decimal.RequireFromString(threshold),
	}
	merchant.ThresholdReached = merchant.Balance.LessThan(merchant.Threshold)
	require.NoError(t, conn.Create(&merchant).Error)

	f := &ledgerFixture{db: conn, merchant: merchant}
	for i := 0; i < 2; i++ {
		store := models.Store{ID: uuid.New(), MerchantID: merchant.ID, Name: "store", IsPublic: true}
		require.NoError(t, conn.Create(&store).Error)
		f.storeIDs = append(f.storeIDs, store.ID)
	}

	svc, err := NewService(NewRepository(conn), outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *ledgerFixture) debit(t *testing.T, amount, key string) *Result {
	t.Helper()
	var res *Result
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = f.svc.Debit(context.Background(), tx, f.merchant.ID, decimal.RequireFromString(amount), key)
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *ledgerFixture) credit(t *testing.T, amount, key string) *Result {
	t.Helper()
	var res *Result
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = f.svc.Credit(context.Background(), tx, f.merchant.ID, decimal.RequireFromString(amount), key)
		return err
	})
	require.NoError(t, err)
	return res
}

func (f *ledgerFixture) reload(t *testing.T) models.Merchant {
	t.Helper()
	var m models.Merchant
	require.NoError(t, f.db.First(&m, "id = ?", f.merchant.ID).Error)
	return m
}

func (f *ledgerFixture) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (f *ledgerFixture) storesFlagged(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Store{}).Where("merchant_id = ? AND credit_threshold_reached = ?", f.merchant.ID, true).Count(&n).Error)
	return n
}

func TestDebitBelowThresholdScenario(t *testing.T) {
	f := newLedgerFixture(t, "500", "1000")
	// an existing marker would hide the transition, so start clean
	require.NoError(t, f.db.Model(&models.Merchant{}).Where("id = ?", f.merchant.ID).Update("threshold_reached", false).Error)
	f.merchant.ThresholdReached = false

	res := f.debit(t, "50", "order-1")

	assert.True(t, res.Applied)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(450)), "balance %s", res.Balance)
	assert.True(t, res.ThresholdReached)

	m := f.reload(t)
	assert.True(t, m.Balance.Equal(decimal.NewFromInt(450)))
	assert.True(t, m.ThresholdReached)
	assert.Equal(t, int64(2), f.storesFlagged(t))
	assert.Equal(t, int64(1), f.events(t, enums.EventLedgerThresholdReached))
	assert.Equal(t, int64(0), f.events(t, enums.EventLedgerThresholdNear))
}

func TestDebitSameKeyAppliesOnce(t *testing.T) {
	f := newLedgerFixture(t, "5000", "1000")

	first := f.debit(t, "100", "order-42")
	second := f.debit(t, "100", "order-42")

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.True(t, f.reload(t).Balance.Equal(decimal.NewFromInt(4900)))

	var entries int64
	require.NoError(t, f.db.Model(&models.MerchantLedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestCreditClearsThresholdMarker(t *testing.T) {
	f := newLedgerFixture(t, "1200", "1000")

	f.debit(t, "300", "order-1")
	require.True(t, f.reload(t).ThresholdReached)
	require.Equal(t, int64(2), f.storesFlagged(t))

	res := f.credit(t, "100", "topup-1")

	assert.True(t, res.Balance.Equal(decimal.NewFromInt(1000)))
	assert.False(t, res.ThresholdReached)
	assert.False(t, f.reload(t).ThresholdReached)
	assert.Equal(t, int64(0), f.storesFlagged(t))
	// Cleared at exactly the threshold, yet still short of taking orders.
	assert.False(t, AcceptsOrders(f.reload(t)))
}

func TestDebitNearThresholdWarns(t *testing.T) {
	f := newLedgerFixture(t, "3000", "1000")

	res := f.debit(t, "1200", "order-7")

	assert.False(t, res.ThresholdReached)
	assert.True(t, res.Status.NearThreshold)
	assert.Equal(t, int64(1), f.events(t, enums.EventLedgerThresholdNear))
	assert.Equal(t, int64(0), f.events(t, enums.EventLedgerThresholdReached))
}

func TestNegativeAmountRejected(t *testing.T) {
	f := newLedgerFixture(t, "3000", "1000")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Credit(context.Background(), tx, f.merchant.ID, decimal.NewFromInt(-5), "bad")
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.True(t, f.reload(t).Balance.Equal(decimal.NewFromInt(3000)))
}

func TestUnknownMerchant(t *testing.T) {
	f := newLedgerFixture(t, "3000", "1000")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Debit(context.Background(), tx, uuid.New(), decimal.NewFromInt(5), "k")
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCheckThreshold(t *testing.T) {
	f := newLedgerFixture(t, "1500", "1000")

	status, err := f.svc.CheckThreshold(context.Background(), f.db, f.merchant.ID)
	require.NoError(t, err)
	assert.False(t, status.BelowThreshold)
	assert.True(t, status.NearThreshold)
}

func TestStatementForOwnerPages(t *testing.T) {
	f := newLedgerFixture(t, "5000", "1000")
	for i := 0; i < 3; i++ {
		f.debit(t, "10", uuid.NewString())
	}

	page, err := f.svc.StatementForOwner(context.Background(), f.merchant.OwnerUserID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Merchant.Balance.Equal(decimal.NewFromInt(4970)))
}

func TestAcceptsOrders(t *testing.T) {
	cases := []struct {
		name string
		m    models.Merchant
		want bool
	}{
		{"above threshold", models.Merchant{Balance: decimal.NewFromInt(1001), Threshold: decimal.NewFromInt(1000)}, true},
		{"at threshold", models.Merchant{Balance: decimal.NewFromInt(1000), Threshold: decimal.NewFromInt(1000)}, false},
		{"recurring billing", models.Merchant{Balance: decimal.Zero, Threshold: decimal.NewFromInt(1000), RecurringBilling: true}, true},
	}
	for _, tc := range cases {
		if got := AcceptsOrders(tc.m); got != tc.want {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, got)
		}
	}
}
