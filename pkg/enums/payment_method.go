package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod describes how a buyer settles an order: cash on delivery or
// online banking through a named processor ("online_banking:<processor>").
type PaymentMethod string

const (
	PaymentMethodCOD PaymentMethod = "cod"

	onlineBankingPrefix = "online_banking:"
)

// OnlineBanking builds the payment method for a processor.
func OnlineBanking(processorID string) PaymentMethod {
	return PaymentMethod(onlineBankingPrefix + processorID)
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsCOD reports whether the order is paid in cash on delivery.
func (p PaymentMethod) IsCOD() bool {
	return p == PaymentMethodCOD
}

// IsOnline reports whether the order is paid through a processor.
func (p PaymentMethod) IsOnline() bool {
	return strings.HasPrefix(string(p), onlineBankingPrefix) && p.Processor() != ""
}

// Processor returns the processor ID for online payments.
func (p PaymentMethod) Processor() string {
	return strings.TrimPrefix(string(p), onlineBankingPrefix)
}

// ActivationKey is the value stores list in their activated payment methods.
func (p PaymentMethod) ActivationKey() string {
	if p.IsCOD() {
		return string(PaymentMethodCOD)
	}
	return p.Processor()
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	return p.IsCOD() || p.IsOnline()
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	p := PaymentMethod(strings.TrimSpace(value))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid payment method %q", value)
	}
	return p, nil
}
