// Package pricing computes order money amounts. Every function is pure and
// rounds to two decimal places half away from zero.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

const places = 2

// Line is the priced view of one cart entry.
type Line struct {
	UnitPrice decimal.Decimal
	Options   []models.OptionSurcharge
	Quantity  int
}

// Input gathers everything needed to price one store's order.
type Input struct {
	Lines           []Line
	FeePercentage   decimal.Decimal
	DeliveryPrice   decimal.Decimal
	OrderVoucher    *models.Voucher
	DeliveryVoucher *models.Voucher
}

// Breakdown is the full set of derived amounts stored on an order.
type Breakdown struct {
	LineTotals       []decimal.Decimal
	Subtotal         decimal.Decimal
	TransactionFee   decimal.Decimal
	DeliveryPrice    decimal.Decimal
	DeliveryDiscount decimal.Decimal
	OrderDiscount    decimal.Decimal
	Total            decimal.Decimal
}

// LineTotal is (unit price + option surcharges) × quantity.
func LineTotal(l Line) decimal.Decimal {
	unit := l.UnitPrice
	for _, opt := range l.Options {
		unit = unit.Add(opt.Price)
	}
	return unit.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(places)
}

// TransactionFee is the merchant's fractional fee (0.05 = 5%) applied to subtotal.
func TransactionFee(feePct, subtotal decimal.Decimal) decimal.Decimal {
	if feePct.IsNegative() {
		return decimal.Zero
	}
	return subtotal.Mul(feePct).Round(places)
}

// OrderDiscount is min(max, pct × subtotal) for percentage vouchers or the flat
// amount otherwise, never more than the subtotal.
func OrderDiscount(v *models.Voucher, subtotal decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return capAt(discount(v, subtotal), subtotal)
}

// DeliveryDiscount applies a delivery voucher, capped at the delivery price.
func DeliveryDiscount(v *models.Voucher, deliveryPrice decimal.Decimal) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return capAt(discount(v, deliveryPrice), deliveryPrice)
}

func discount(v *models.Voucher, base decimal.Decimal) decimal.Decimal {
	switch v.DiscountKind {
	case enums.DiscountPercentage:
		amount := base.Mul(v.Percentage).Round(places)
		if v.MaxAmount.IsPositive() {
			amount = decimal.Min(v.MaxAmount, amount)
		}
		return amount
	case enums.DiscountFlat:
		return v.FlatAmount
	}
	return decimal.Zero
}

func capAt(amount, ceiling decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, ceiling)
}

// Compute prices a whole order. The transaction fee is charged to the
// merchant and is not part of the buyer total.
func Compute(in Input) Breakdown {
	b := Breakdown{
		LineTotals:    make([]decimal.Decimal, len(in.Lines)),
		Subtotal:      decimal.Zero,
		DeliveryPrice: in.DeliveryPrice.Round(places),
	}
	for i, l := range in.Lines {
		b.LineTotals[i] = LineTotal(l)
		b.Subtotal = b.Subtotal.Add(b.LineTotals[i])
	}
	b.TransactionFee = TransactionFee(in.FeePercentage, b.Subtotal)
	b.OrderDiscount = OrderDiscount(in.OrderVoucher, b.Subtotal)
	b.DeliveryDiscount = DeliveryDiscount(in.DeliveryVoucher, b.DeliveryPrice)
	b.Total = b.Subtotal.Sub(b.OrderDiscount).Add(b.DeliveryPrice).Sub(b.DeliveryDiscount)
	if b.Total.IsNegative() {
		b.Total = decimal.Zero
	}
	return b
}
