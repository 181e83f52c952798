package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/api/middleware"
	cartsvc "github.com/angelmondragon/marketcore-backend/internal/cart"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
)

type stubCartService struct {
	buyerID uuid.UUID
	input   cartsvc.AddEntryInput
	groups  []cartsvc.StoreGroup
}

func (s *stubCartService) AddEntry(ctx context.Context, buyerID uuid.UUID, input cartsvc.AddEntryInput) (*models.CartEntry, error) {
	s.buyerID = buyerID
	s.input = input
	return &models.CartEntry{ID: uuid.New(), StoreID: input.StoreID, ItemID: input.ItemID, Name: input.Name, Quantity: input.Quantity, UnitPrice: input.UnitPrice, Options: input.Options}, nil
}

func (s *stubCartService) Groups(ctx context.Context, buyerID uuid.UUID) ([]cartsvc.StoreGroup, error) {
	return s.groups, nil
}

func buyerRequest(method, body string) (*http.Request, uuid.UUID) {
	buyerID := uuid.New()
	req := httptest.NewRequest(method, "/api/v1/cart", strings.NewReader(body))
	return req.WithContext(middleware.WithUserID(req.Context(), buyerID.String())), buyerID
}

func TestCartAddEntry(t *testing.T) {
	svc := &stubCartService{}
	storeID, itemID := uuid.New(), uuid.New()
	body := `{"store_id":"` + storeID.String() + `","item_id":"` + itemID.String() + `","page_number":1,"name":"Adobo","quantity":2,"unit_price":"100","options":[{"name":"extra rice","price":"20"}]}`
	req, buyerID := buyerRequest(http.MethodPost, body)

	rec := httptest.NewRecorder()
	CartAddEntry(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.buyerID != buyerID || svc.input.StoreID != storeID || len(svc.input.Options) != 1 {
		t.Fatalf("unexpected input %+v", svc.input)
	}
	var envelope struct {
		Data entryResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.LineTotal.Equal(decimal.NewFromInt(240)) {
		t.Fatalf("unexpected line total %s", envelope.Data.LineTotal)
	}
}

func TestCartAddEntryValidates(t *testing.T) {
	req, _ := buyerRequest(http.MethodPost, `{"store_id":"`+uuid.NewString()+`","item_id":"`+uuid.NewString()+`","name":"x","quantity":0}`)
	rec := httptest.NewRecorder()
	CartAddEntry(&stubCartService{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestCartFetchGroupsByStore(t *testing.T) {
	storeID := uuid.New()
	svc := &stubCartService{groups: []cartsvc.StoreGroup{{
		StoreID: storeID,
		Entries: []models.CartEntry{
			{ID: uuid.New(), StoreID: storeID, Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
			{ID: uuid.New(), StoreID: storeID, Quantity: 3, UnitPrice: decimal.NewFromInt(10)},
		},
	}}}
	req, _ := buyerRequest(http.MethodGet, "")
	rec := httptest.NewRecorder()
	CartFetch(svc, nil).ServeHTTP(rec, req)

	var envelope struct {
		Data cartResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Stores) != 1 || !envelope.Data.Stores[0].Subtotal.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("unexpected cart %+v", envelope.Data)
	}
}
