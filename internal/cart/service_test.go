package cart

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
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

func TestGroupByStoreKeepsOrder(t *testing.T) {
	t.Parallel()

	storeA, storeB := uuid.New(), uuid.New()
	entries := []models.CartEntry{
		{ID: uuid.New(), StoreID: storeA, Name: "a1"},
		{ID: uuid.New(), StoreID: storeB, Name: "b1"},
		{ID: uuid.New(), StoreID: storeA, Name: "a2"},
	}

	groups := GroupByStore(entries)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].StoreID != storeA || len(groups[0].Entries) != 2 || groups[0].Entries[1].Name != "a2" {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}
	if groups[1].StoreID != storeB || len(groups[1].Entries) != 1 {
		t.Fatalf("unexpected second group: %+v", groups[1])
	}
	if got := GroupByStore(nil); len(got) != 0 {
		t.Fatalf("expected no groups for empty cart")
	}
}

func TestAddEntryValidation(t *testing.T) {
	t.Parallel()

	svc, err := NewService(NewRepository(nil))
	require.NoError(t, err)

	_, err = svc.AddEntry(context.Background(), uuid.New(), AddEntryInput{Quantity: 0, UnitPrice: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRemoveDetectsConcurrentCheckout(t *testing.T) {
	conn, client := dbtest.Open(t, &models.CartEntry{})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	ctx := context.Background()

	buyerID, storeID := uuid.New(), uuid.New()
	first, err := svc.AddEntry(ctx, buyerID, AddEntryInput{StoreID: storeID, ItemID: uuid.New(), Name: "Tea", Quantity: 2, UnitPrice: decimal.NewFromInt(50)})
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, buyerID, AddEntryInput{StoreID: uuid.New(), ItemID: uuid.New(), Name: "Cup", Quantity: 1, UnitPrice: decimal.NewFromInt(20)})
	require.NoError(t, err)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		entries, err := svc.EntriesForStore(ctx, tx, buyerID, storeID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, first.ID, entries[0].ID)
		return svc.Remove(ctx, tx, buyerID, entries)
	})
	require.NoError(t, err)

	groups, err := svc.Groups(ctx, buyerID)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Remove(ctx, tx, buyerID, []models.CartEntry{*first})
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}
