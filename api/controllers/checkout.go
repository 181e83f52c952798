package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marketcore-backend/api/controllers/callercontext"
	"github.com/angelmondragon/marketcore-backend/api/responses"
	"github.com/angelmondragon/marketcore-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/marketcore-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

type orderPlacer interface {
	PlaceOrder(ctx context.Context, input checkoutsvc.PlaceOrderInput) (*checkoutsvc.Result, error)
}

// Checkout places one order per store in the buyer's cart. Stores fail
// independently, so a partial success still answers 201 with per-store
// results; 409 is reserved for every store failing.
func Checkout(svc orderPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutsvc.PlaceOrderInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.BuyerID = buyerID

		result, err := svc.PlaceOrder(r.Context(), payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Succeeded == 0 {
			status = http.StatusConflict
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
