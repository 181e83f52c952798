package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestLineTotalIncludesSurcharges(t *testing.T) {
	line := Line{
		UnitPrice: dec(t, "10.00"),
		Options: []models.OptionSurcharge{
			{Name: "large", Price: dec(t, "2.50")},
			{Name: "extra shot", Price: dec(t, "0.75")},
		},
		Quantity: 3,
	}
	if got := LineTotal(line); !got.Equal(dec(t, "39.75")) {
		t.Fatalf("expected 39.75, got %s", got)
	}
}

func TestTransactionFeeRoundsToCents(t *testing.T) {
	got := TransactionFee(dec(t, "0.035"), dec(t, "99.99"))
	if !got.Equal(dec(t, "3.50")) {
		t.Fatalf("expected 3.50, got %s", got)
	}
	if fee := TransactionFee(dec(t, "-0.01"), dec(t, "100")); !fee.IsZero() {
		t.Fatalf("negative percentage should yield zero fee, got %s", fee)
	}
}

func TestOrderDiscountPercentageCappedAtMax(t *testing.T) {
	v := &models.Voucher{
		DiscountKind: enums.DiscountPercentage,
		Percentage:   dec(t, "0.20"),
		MaxAmount:    dec(t, "15"),
	}
	if got := OrderDiscount(v, dec(t, "200")); !got.Equal(dec(t, "15")) {
		t.Fatalf("expected cap of 15, got %s", got)
	}
	if got := OrderDiscount(v, dec(t, "50")); !got.Equal(dec(t, "10")) {
		t.Fatalf("expected 10, got %s", got)
	}
}

func TestFlatDiscountNeverExceedsBase(t *testing.T) {
	v := &models.Voucher{DiscountKind: enums.DiscountFlat, FlatAmount: dec(t, "80")}
	if got := DeliveryDiscount(v, dec(t, "60")); !got.Equal(dec(t, "60")) {
		t.Fatalf("delivery discount should cap at delivery price, got %s", got)
	}
	if got := OrderDiscount(v, dec(t, "25")); !got.Equal(dec(t, "25")) {
		t.Fatalf("order discount should cap at subtotal, got %s", got)
	}
	if got := OrderDiscount(nil, dec(t, "25")); !got.IsZero() {
		t.Fatalf("nil voucher should not discount, got %s", got)
	}
}

func TestComputeExcludesFeeFromTotal(t *testing.T) {
	b := Compute(Input{
		Lines: []Line{
			{UnitPrice: dec(t, "100"), Quantity: 2},
			{UnitPrice: dec(t, "15.50"), Quantity: 1},
		},
		FeePercentage: dec(t, "0.05"),
		DeliveryPrice: dec(t, "49"),
		OrderVoucher: &models.Voucher{
			DiscountKind: enums.DiscountFlat,
			FlatAmount:   dec(t, "20"),
		},
		DeliveryVoucher: &models.Voucher{
			DiscountKind: enums.DiscountPercentage,
			Percentage:   dec(t, "0.50"),
		},
	})

	if !b.Subtotal.Equal(dec(t, "215.50")) {
		t.Fatalf("subtotal: %s", b.Subtotal)
	}
	if !b.TransactionFee.Equal(dec(t, "10.78")) {
		t.Fatalf("fee: %s", b.TransactionFee)
	}
	if !b.DeliveryDiscount.Equal(dec(t, "24.50")) {
		t.Fatalf("delivery discount: %s", b.DeliveryDiscount)
	}
	// 215.50 - 20 + 49 - 24.50
	if !b.Total.Equal(dec(t, "220")) {
		t.Fatalf("total: %s", b.Total)
	}
	if len(b.LineTotals) != 2 || !b.LineTotals[1].Equal(dec(t, "15.50")) {
		t.Fatalf("line totals: %v", b.LineTotals)
	}
}
