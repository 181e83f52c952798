package types

import (
	"fmt"
	"strings"
)

// Contact is the person a courier calls at a stop.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// DeliveryPoint is a pickup or drop-off stop: address, coordinates and contact.
type DeliveryPoint struct {
	Address   string  `json:"address"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Contact   Contact `json:"contact"`
	Note      string  `json:"note,omitempty"`
	Apartment string  `json:"apartment,omitempty"`
}

// Validate checks the fields a courier booking cannot do without.
func (p DeliveryPoint) Validate() error {
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("delivery point: missing address")
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("delivery point: coordinates out of range")
	}
	if strings.TrimSpace(p.Contact.Phone) == "" {
		return fmt.Errorf("delivery point: missing contact phone")
	}
	return nil
}
