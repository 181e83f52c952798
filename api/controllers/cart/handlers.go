package cart

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/api/controllers/callercontext"
	"github.com/angelmondragon/marketcore-backend/api/responses"
	"github.com/angelmondragon/marketcore-backend/api/validators"
	cartsvc "github.com/angelmondragon/marketcore-backend/internal/cart"
	"github.com/angelmondragon/marketcore-backend/internal/pricing"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

// Service is what the cart endpoints need from the cart package.
type Service interface {
	AddEntry(ctx context.Context, buyerID uuid.UUID, input cartsvc.AddEntryInput) (*models.CartEntry, error)
	Groups(ctx context.Context, buyerID uuid.UUID) ([]cartsvc.StoreGroup, error)
}

type optionRequest struct {
	Name  string          `json:"name" validate:"required,max=120"`
	Price decimal.Decimal `json:"price" validate:"money"`
}

type addEntryRequest struct {
	StoreID    uuid.UUID       `json:"store_id" validate:"required"`
	ItemID     uuid.UUID       `json:"item_id" validate:"required"`
	PageNumber int             `json:"page_number" validate:"min=0"`
	Name       string          `json:"name" validate:"required,max=200"`
	Quantity   int             `json:"quantity" validate:"required,min=1,max=999"`
	UnitPrice  decimal.Decimal `json:"unit_price" validate:"money"`
	Options    []optionRequest `json:"options,omitempty" validate:"omitempty,dive"`
}

type entryResponse struct {
	ID         uuid.UUID                `json:"id"`
	ItemID     uuid.UUID                `json:"item_id"`
	PageNumber int                      `json:"page_number"`
	Name       string                   `json:"name"`
	Quantity   int                      `json:"quantity"`
	UnitPrice  decimal.Decimal          `json:"unit_price"`
	Options    []models.OptionSurcharge `json:"options,omitempty"`
	LineTotal  decimal.Decimal          `json:"line_total"`
	CreatedAt  time.Time                `json:"created_at"`
}

type storeGroupResponse struct {
	StoreID  uuid.UUID       `json:"store_id"`
	Entries  []entryResponse `json:"entries"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type cartResponse struct {
	Stores []storeGroupResponse `json:"stores"`
}

// CartAddEntry drops one item into the buyer's cart.
func CartAddEntry(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		buyerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload addEntryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		options := make([]models.OptionSurcharge, 0, len(payload.Options))
		for _, opt := range payload.Options {
			options = append(options, models.OptionSurcharge{Name: validators.SanitizeString(opt.Name, 120), Price: opt.Price})
		}

		entry, err := svc.AddEntry(r.Context(), buyerID, cartsvc.AddEntryInput{
			StoreID:    payload.StoreID,
			ItemID:     payload.ItemID,
			PageNumber: payload.PageNumber,
			Name:       validators.SanitizeString(strings.TrimSpace(payload.Name), 200),
			Quantity:   payload.Quantity,
			UnitPrice:  payload.UnitPrice,
			Options:    options,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEntryResponse(*entry))
	}
}

// CartFetch returns the buyer's cart grouped by store.
func CartFetch(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		buyerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		groups, err := svc.Groups(r.Context(), buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(groups))
	}
}

func newCartResponse(groups []cartsvc.StoreGroup) cartResponse {
	out := cartResponse{Stores: make([]storeGroupResponse, 0, len(groups))}
	for _, g := range groups {
		group := storeGroupResponse{StoreID: g.StoreID, Subtotal: decimal.Zero}
		for _, e := range g.Entries {
			resp := newEntryResponse(e)
			group.Subtotal = group.Subtotal.Add(resp.LineTotal)
			group.Entries = append(group.Entries, resp)
		}
		out.Stores = append(out.Stores, group)
	}
	return out
}

func newEntryResponse(e models.CartEntry) entryResponse {
	return entryResponse{
		ID:         e.ID,
		ItemID:     e.ItemID,
		PageNumber: e.PageNumber,
		Name:       e.Name,
		Quantity:   e.Quantity,
		UnitPrice:  e.UnitPrice,
		Options:    e.Options,
		LineTotal:  pricing.LineTotal(pricing.Line{UnitPrice: e.UnitPrice, Options: e.Options, Quantity: e.Quantity}),
		CreatedAt:  e.CreatedAt,
	}
}
