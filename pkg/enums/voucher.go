package enums

// VoucherType declares what a voucher discounts.
type VoucherType string

const (
	VoucherTypeDelivery VoucherType = "delivery_discount"
	VoucherTypeOrder    VoucherType = "order_discount"
)

// VoucherSlot is the position a claimed voucher is applied to in a cart.
type VoucherSlot string

const (
	VoucherSlotDelivery VoucherSlot = "delivery"
	VoucherSlotOrder    VoucherSlot = "order"
)

// Accepts reports whether a voucher of type t may fill the slot.
func (s VoucherSlot) Accepts(t VoucherType) bool {
	switch s {
	case VoucherSlotDelivery:
		return t == VoucherTypeDelivery
	case VoucherSlotOrder:
		return t == VoucherTypeOrder
	}
	return false
}

// DiscountKind selects how an order voucher computes its amount.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFlat       DiscountKind = "flat"
)
