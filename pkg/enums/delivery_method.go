package enums

import "fmt"

// DeliveryMethod selects who carries the parcel to the buyer.
type DeliveryMethod string

const (
	DeliveryMethodOwn     DeliveryMethod = "own_delivery"
	DeliveryMethodCourier DeliveryMethod = "courier_network"
)

var validDeliveryMethods = []DeliveryMethod{
	DeliveryMethodOwn,
	DeliveryMethodCourier,
}

// String implements fmt.Stringer.
func (d DeliveryMethod) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryMethod.
func (d DeliveryMethod) IsValid() bool {
	for _, candidate := range validDeliveryMethods {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryMethod converts raw input into a DeliveryMethod.
func ParseDeliveryMethod(value string) (DeliveryMethod, error) {
	for _, candidate := range validDeliveryMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery method %q", value)
}

// VehicleClass is the courier vehicle requested for a booking.
type VehicleClass string

const (
	VehicleMotorbike VehicleClass = "motorbike"
	VehicleSedan     VehicleClass = "sedan"
	VehicleVan       VehicleClass = "van"
)

// IsValid reports whether the value is a known VehicleClass.
func (v VehicleClass) IsValid() bool {
	switch v {
	case VehicleMotorbike, VehicleSedan, VehicleVan:
		return true
	}
	return false
}

// BookingStatus tracks a courier booking row.
type BookingStatus string

const (
	BookingStatusBooked    BookingStatus = "booked"
	BookingStatusCancelled BookingStatus = "cancelled"
)
