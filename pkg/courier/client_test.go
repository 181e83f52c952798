package courier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
	"github.com/angelmondragon/marketcore-backend/pkg/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testPoints() []types.DeliveryPoint {
	return []types.DeliveryPoint{
		{Address: "Pickup St 1", Lat: 14.55, Lng: 121.02, Contact: types.Contact{Name: "Store", Phone: "+630001"}},
		{Address: "Dropoff Ave 2", Lat: 14.60, Lng: 121.05, Contact: types.Contact{Name: "Buyer", Phone: "+630002"}},
	}
}

func newServerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, "courier-auth-token", secrets.Static{"courier-auth-token": "tok-1"}, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestQuoteSendsTokenAndParsesPrice(t *testing.T) {
	var body apiOrder
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calculate-order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-DV-Auth-Token") != "tok-1" {
			t.Errorf("missing auth token header")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"is_successful":true,"order":{"order_id":0,"payment_amount":"145.00"}}`))
	})

	price, err := client.Quote(context.Background(), QuoteRequest{
		Points:        testPoints(),
		InsuredAmount: decimal.NewFromInt(500),
		VehicleClass:  enums.VehicleSedan,
		WeightKG:      3,
		PaymentMethod: enums.PaymentMethodCOD,
		CollectAmount: decimal.NewFromInt(520),
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if price == nil || !price.Equal(decimal.NewFromInt(145)) {
		t.Fatalf("expected 145, got %v", price)
	}
	if body.VehicleTypeID != 7 || body.PaymentMethod != "cash" || body.InsuranceAmount != "500.00" {
		t.Fatalf("unexpected request body %+v", body)
	}
	if body.Points[1].TakingAmount != "520.00" || body.Points[0].TakingAmount != "" {
		t.Fatalf("cash should be collected at drop-off only: %+v", body.Points)
	}
}

func TestQuoteTreatsOutageAsUnknown(t *testing.T) {
	client, err := NewClient("https://courier.example.com", "tok", secrets.Static{"tok": "x"}, time.Second,
		WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial timeout")
		})}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	price, err := client.Quote(context.Background(), QuoteRequest{Points: testPoints()})
	if err != nil || price != nil {
		t.Fatalf("expected nil price and nil error on outage, got %v %v", price, err)
	}
}

func TestQuoteTreatsServerErrorAsUnknown(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	price, err := client.Quote(context.Background(), QuoteRequest{Points: testPoints()})
	if err != nil || price != nil {
		t.Fatalf("expected unknown price, got %v %v", price, err)
	}
}

func TestBookSuccess(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create-order" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"is_successful":true,"order":{"order_id":981,"payment_amount":"150.00"}}`))
	})

	result, err := client.Book(context.Background(), BookingRequest{
		QuoteRequest:    QuoteRequest{Points: testPoints(), VehicleClass: enums.VehicleMotorbike},
		Matter:          "Food",
		MotoboxRequired: true,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !result.IsSuccessful || result.BookingID != "981" || !result.Price.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected booking result %+v", result)
	}
}

func TestBookSurfacesParameterErrors(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"is_successful":false,"errors":["invalid_parameters"],"parameter_errors":{"points":[null,{"address":["invalid_value"],"contact_person":{"phone":["invalid_phone"]}}]}}`))
	})

	result, err := client.Book(context.Background(), BookingRequest{QuoteRequest: QuoteRequest{Points: testPoints()}})
	if err != nil {
		t.Fatalf("book returned transport error: %v", err)
	}
	if result.IsSuccessful {
		t.Fatal("expected unsuccessful booking")
	}
	if got := result.ParameterErrors["points.1.address"]; len(got) != 1 || got[0] != "invalid_value" {
		t.Fatalf("unexpected address errors %v", result.ParameterErrors)
	}
	if got := result.ParameterErrors["points.1.contact_person.phone"]; len(got) != 1 {
		t.Fatalf("missing nested phone error %v", result.ParameterErrors)
	}
	if got := result.ParameterErrors["_"]; len(got) != 1 || got[0] != "invalid_parameters" {
		t.Fatalf("missing general errors %v", result.ParameterErrors)
	}
}

func TestBookTransportFailureIsError(t *testing.T) {
	client, _ := NewClient("https://courier.example.com", "tok", secrets.Static{"tok": "x"}, time.Second,
		WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})}))
	if _, err := client.Book(context.Background(), BookingRequest{QuoteRequest: QuoteRequest{Points: testPoints()}}); err == nil {
		t.Fatal("expected transport failure to be returned")
	}
}

func TestCancel(t *testing.T) {
	var got map[string]string
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"is_successful":true}`))
	})
	if err := client.Cancel(context.Background(), "981"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got["order_id"] != "981" {
		t.Fatalf("unexpected cancel payload %v", got)
	}
}

func TestMissingTokenFailsRequest(t *testing.T) {
	client, _ := NewClient("https://courier.example.com", "tok", secrets.Static{}, time.Second)
	err := client.Cancel(context.Background(), "1")
	if err == nil || !strings.Contains(err.Error(), "courier token") {
		t.Fatalf("expected token error, got %v", err)
	}
}
