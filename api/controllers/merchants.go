package controllers

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
	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
)

type topUpRequester interface {
	RequestTopUpLink(ctx context.Context, ownerUserID uuid.UUID, amount decimal.Decimal, processor string) (*payments.TopUpLink, error)
}

type statementReader interface {
	StatementForOwner(ctx context.Context, ownerUserID uuid.UUID, params pagination.Params) (*ledger.Statement, error)
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"money_pos"`
	Processor string          `json:"processor" validate:"max=32"`
}

type ledgerEntryResponse struct {
	ID             uuid.UUID             `json:"id"`
	Direction      enums.LedgerDirection `json:"direction"`
	Amount         decimal.Decimal       `json:"amount"`
	BalanceAfter   decimal.Decimal       `json:"balance_after"`
	IdempotencyKey string                `json:"idempotency_key"`
	CreatedAt      time.Time             `json:"created_at"`
}

type statementResponse struct {
	MerchantID       uuid.UUID             `json:"merchant_id"`
	Balance          decimal.Decimal       `json:"balance"`
	Threshold        decimal.Decimal       `json:"threshold"`
	BelowThreshold   bool                  `json:"below_threshold"`
	NearThreshold    bool                  `json:"near_threshold"`
	RecurringBilling bool                  `json:"recurring_billing"`
	Entries          []ledgerEntryResponse `json:"entries"`
	NextCursor       string                `json:"next_cursor,omitempty"`
}

// MerchantTopUp issues a payment link that credits the caller's ledger once paid.
func MerchantTopUp(svc topUpRequester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment links unavailable"))
			return
		}
		ownerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload topUpRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		link, err := svc.RequestTopUpLink(r.Context(), ownerID, payload.Amount, strings.ToLower(strings.TrimSpace(payload.Processor)))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, link)
	}
}

// MerchantLedger returns the caller's balance and a page of ledger entries.
func MerchantLedger(svc statementReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		ownerID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		statement, err := svc.StatementForOwner(r.Context(), ownerID, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newStatementResponse(statement))
	}
}

func newStatementResponse(s *ledger.Statement) statementResponse {
	out := statementResponse{
		MerchantID:       s.Merchant.ID,
		Balance:          s.Merchant.Balance,
		Threshold:        s.Merchant.Threshold,
		BelowThreshold:   s.Status.BelowThreshold,
		NearThreshold:    s.Status.NearThreshold,
		RecurringBilling: s.Merchant.RecurringBilling,
		Entries:          make([]ledgerEntryResponse, 0, len(s.Entries)),
		NextCursor:       s.NextCursor,
	}
	for _, e := range s.Entries {
		out.Entries = append(out.Entries, ledgerEntryResponse{
			ID:             e.ID,
			Direction:      e.Direction,
			Amount:         e.Amount,
			BalanceAfter:   e.BalanceAfter,
			IdempotencyKey: e.IdempotencyKey,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}
