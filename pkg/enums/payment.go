package enums

import "fmt"

// PaymentPurpose selects which effect a confirmed payment has.
type PaymentPurpose string

const (
	PaymentPurposeOrder PaymentPurpose = "order_payment"
	PaymentPurposeTopUp PaymentPurpose = "merchant_topup"
)

// IsValid reports whether the value is a known PaymentPurpose.
func (p PaymentPurpose) IsValid() bool {
	return p == PaymentPurposeOrder || p == PaymentPurposeTopUp
}

// ParsePaymentPurpose converts raw input into a PaymentPurpose.
func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	p := PaymentPurpose(value)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid payment purpose %q", value)
	}
	return p, nil
}

// PaymentStatus is the processor's one-letter transaction status code.
type PaymentStatus string

const (
	PaymentStatusUnknown    PaymentStatus = "U"
	PaymentStatusSuccess    PaymentStatus = "S"
	PaymentStatusFailed     PaymentStatus = "F"
	PaymentStatusPending    PaymentStatus = "P"
	PaymentStatusRefund     PaymentStatus = "R"
	PaymentStatusChargeback PaymentStatus = "K"
	PaymentStatusVoid       PaymentStatus = "V"
	PaymentStatusAuthorized PaymentStatus = "A"
)

var paymentStatusNames = map[PaymentStatus]string{
	PaymentStatusUnknown:    "unknown",
	PaymentStatusSuccess:    "success",
	PaymentStatusFailed:     "failed",
	PaymentStatusPending:    "pending",
	PaymentStatusRefund:     "refund",
	PaymentStatusChargeback: "chargeback",
	PaymentStatusVoid:       "void",
	PaymentStatusAuthorized: "authorized",
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// Name returns the lower-case label used in URLs and logs.
func (p PaymentStatus) Name() string {
	if name, ok := paymentStatusNames[p]; ok {
		return name
	}
	return "unknown"
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	_, ok := paymentStatusNames[p]
	return ok
}

// IsTerminal reports whether a transaction in this status accepts no further updates.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusRefund, PaymentStatusChargeback, PaymentStatusVoid:
		return true
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	p := PaymentStatus(value)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid payment status %q", value)
	}
	return p, nil
}

// LedgerDirection marks whether an entry added or removed credit.
type LedgerDirection string

const (
	LedgerDebit  LedgerDirection = "debit"
	LedgerCredit LedgerDirection = "credit"
)
