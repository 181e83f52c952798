package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketcore-backend/api/middleware"
	"github.com/angelmondragon/marketcore-backend/api/responses"
)

type pingResponse struct {
	Scope      string `json:"scope"`
	Status     string `json:"status"`
	RequestID  string `json:"requestId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	Role       string `json:"role,omitempty"`
	MerchantID string `json:"merchantId,omitempty"`
}

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, pingResponse{
			Scope:     "public",
			Status:    "ok",
			RequestID: middleware.RequestIDFromContext(r.Context()),
		})
	}
}

// PrivatePing echoes the identity the auth middleware resolved, which makes
// it the quickest way to debug a token.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		responses.WriteSuccess(w, pingResponse{
			Scope:      "private",
			Status:     "ok",
			RequestID:  middleware.RequestIDFromContext(ctx),
			UserID:     middleware.UserIDFromContext(ctx),
			Role:       middleware.RoleFromContext(ctx),
			MerchantID: middleware.MerchantIDFromContext(ctx),
		})
	}
}
