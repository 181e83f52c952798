package types

import "testing"

func TestDeliveryPointValidate(t *testing.T) {
	valid := DeliveryPoint{Address: "12 Rizal Ave", Lat: 14.6, Lng: 121.0, Contact: Contact{Name: "Ana", Phone: "+639170000000"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid point, got %v", err)
	}

	cases := map[string]DeliveryPoint{
		"missing address": {Lat: 1, Lng: 1, Contact: Contact{Phone: "1"}},
		"bad latitude":    {Address: "x", Lat: 95, Lng: 1, Contact: Contact{Phone: "1"}},
		"missing phone":   {Address: "x", Lat: 1, Lng: 1},
	}
	for name, point := range cases {
		if err := point.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
