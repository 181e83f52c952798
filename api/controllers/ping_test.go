package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketcore-backend/api/middleware"
)

func TestPrivatePingEchoesCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	ctx := middleware.WithRequestID(req.Context(), "req-1")
	ctx = middleware.WithUserID(ctx, "user-1")
	ctx = middleware.WithRole(ctx, "merchant")
	ctx = middleware.WithMerchantID(ctx, "m-1")
	resp := httptest.NewRecorder()
	PrivatePing()(resp, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, resp.Code)
	var data pingResponse
	decodeData(t, resp, &data)
	assert.Equal(t, pingResponse{Scope: "private", Status: "ok", RequestID: "req-1", UserID: "user-1", Role: "merchant", MerchantID: "m-1"}, data)
}

func TestPublicPingOmitsIdentity(t *testing.T) {
	resp := httptest.NewRecorder()
	PublicPing()(resp, httptest.NewRequest(http.MethodGet, "/api/public/ping", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), "userId")
	assert.Contains(t, resp.Body.String(), `"scope":"public"`)
}
