package paygate

import "github.com/shopspring/decimal"

// Fee is what a processor keeps from each successful payment.
type Fee struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal
}

// FeeTable maps processor IDs to their fee. The empty key is the fallback.
type FeeTable map[string]Fee

// DefaultFeeTable lists the processors stores can activate.
func DefaultFeeTable() FeeTable {
	return FeeTable{
		"":        {Flat: decimal.RequireFromString("20.00")},
		"gcash":   {Percent: decimal.RequireFromString("0.023")},
		"bpi":     {Flat: decimal.RequireFromString("15.00")},
		"bdo":     {Flat: decimal.RequireFromString("15.00")},
		"7eleven": {Flat: decimal.RequireFromString("10.00"), Percent: decimal.RequireFromString("0.01")},
	}
}

// Supports reports whether the processor has an explicit fee entry.
func (t FeeTable) Supports(processorID string) bool {
	if processorID == "" {
		return false
	}
	_, ok := t[processorID]
	return ok
}

// FeeFor computes the processor fee on amount, rounded to two decimals.
func (t FeeTable) FeeFor(processorID string, amount decimal.Decimal) decimal.Decimal {
	fee, ok := t[processorID]
	if !ok {
		fee = t[""]
	}
	return fee.Flat.Add(amount.Mul(fee.Percent)).Round(2)
}
