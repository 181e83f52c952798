package vouchers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

// Applied is a voucher consumed for one order slot.
type Applied struct {
	Voucher     models.Voucher
	UsageNumber int
}

// Service consumes claimed vouchers inside checkout transactions.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Use consumes one remaining use of the buyer's claimed voucher for slot.
// UsageNumber is maxUses - remaining + 1, counted before the decrement.
func (s *Service) Use(ctx context.Context, tx *gorm.DB, buyerID, voucherID uuid.UUID, slot enums.VoucherSlot, subtotal decimal.Decimal) (*Applied, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}

	var voucher models.Voucher
	if err := tx.WithContext(ctx).Where("id = ?", voucherID).First(&voucher).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load voucher")
	}
	if !slot.Accepts(voucher.Type) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("voucher %s cannot be used as a %s voucher", voucher.Code, slot))
	}
	if subtotal.LessThan(voucher.MinSubtotal) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("voucher %s requires a subtotal of at least %s", voucher.Code, voucher.MinSubtotal.StringFixed(2)))
	}

	var claim models.ClaimedVoucher
	if err := tx.WithContext(ctx).
		Where("buyer_id = ? AND voucher_id = ?", buyerID, voucherID).
		First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher not claimed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load claimed voucher")
	}
	if claim.RemainingUses <= 0 {
		return nil, exhausted(voucher)
	}

	res := tx.WithContext(ctx).
		Model(&models.ClaimedVoucher{}).
		Where("id = ? AND remaining_uses > 0", claim.ID).
		Update("remaining_uses", gorm.Expr("remaining_uses - 1"))
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "consume voucher")
	}
	if res.RowsAffected == 0 {
		return nil, exhausted(voucher)
	}

	return &Applied{
		Voucher:     voucher,
		UsageNumber: voucher.MaxUses - claim.RemainingUses + 1,
	}, nil
}

func exhausted(v models.Voucher) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("voucher %s has no uses left", v.Code))
}
