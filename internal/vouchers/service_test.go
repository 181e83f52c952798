package vouchers

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
)

func seedVoucher(t *testing.T, db *gorm.DB, vt enums.VoucherType, maxUses, remaining int, minSubtotal string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	v := models.Voucher{
		ID:           uuid.New(),
		Code:         "SAVE-" + uuid.NewString()[:8],
		Type:         vt,
		DiscountKind: enums.DiscountPercentage,
		Percentage:   decimal.RequireFromString("0.10"),
		MaxAmount:    decimal.NewFromInt(100),
		MinSubtotal:  decimal.RequireFromString(minSubtotal),
		MaxUses:      maxUses,
	}
	require.NoError(t, db.Create(&v).Error)
	buyerID := uuid.New()
	require.NoError(t, db.Create(&models.ClaimedVoucher{ID: uuid.New(), BuyerID: buyerID, VoucherID: v.ID, RemainingUses: remaining}).Error)
	return buyerID, v.ID
}

func use(db *gorm.DB, buyerID, voucherID uuid.UUID, slot enums.VoucherSlot, subtotal string) (*Applied, error) {
	var applied *Applied
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = NewService().Use(context.Background(), tx, buyerID, voucherID, slot, decimal.RequireFromString(subtotal))
		return err
	})
	return applied, err
}

func TestUseLastRemainingThenExhausted(t *testing.T) {
	db, _ := dbtest.Open(t, &models.Voucher{}, &models.ClaimedVoucher{})
	buyerID, voucherID := seedVoucher(t, db, enums.VoucherTypeOrder, 3, 1, "0")

	applied, err := use(db, buyerID, voucherID, enums.VoucherSlotOrder, "500")
	require.NoError(t, err)
	assert.Equal(t, 3, applied.UsageNumber)

	_, err = use(db, buyerID, voucherID, enums.VoucherSlotOrder, "500")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var claim models.ClaimedVoucher
	require.NoError(t, db.Where("buyer_id = ?", buyerID).First(&claim).Error)
	assert.Equal(t, 0, claim.RemainingUses)
}

func TestUseFirstOfThree(t *testing.T) {
	db, _ := dbtest.Open(t, &models.Voucher{}, &models.ClaimedVoucher{})
	buyerID, voucherID := seedVoucher(t, db, enums.VoucherTypeDelivery, 3, 3, "0")

	applied, err := use(db, buyerID, voucherID, enums.VoucherSlotDelivery, "10")
	require.NoError(t, err)
	assert.Equal(t, 1, applied.UsageNumber)
}

func TestUseRejectsSlotMismatch(t *testing.T) {
	db, _ := dbtest.Open(t, &models.Voucher{}, &models.ClaimedVoucher{})
	buyerID, voucherID := seedVoucher(t, db, enums.VoucherTypeDelivery, 2, 2, "0")

	_, err := use(db, buyerID, voucherID, enums.VoucherSlotOrder, "500")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	var claim models.ClaimedVoucher
	require.NoError(t, db.Where("buyer_id = ?", buyerID).First(&claim).Error)
	assert.Equal(t, 2, claim.RemainingUses)
}

func TestUseRejectsBelowMinimumSubtotal(t *testing.T) {
	db, _ := dbtest.Open(t, &models.Voucher{}, &models.ClaimedVoucher{})
	buyerID, voucherID := seedVoucher(t, db, enums.VoucherTypeOrder, 2, 2, "300")

	_, err := use(db, buyerID, voucherID, enums.VoucherSlotOrder, "299.99")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUseRejectsUnclaimed(t *testing.T) {
	db, _ := dbtest.Open(t, &models.Voucher{}, &models.ClaimedVoucher{})
	_, voucherID := seedVoucher(t, db, enums.VoucherTypeOrder, 2, 2, "0")

	_, err := use(db, uuid.New(), voucherID, enums.VoucherSlotOrder, "100")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
