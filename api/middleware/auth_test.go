package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketcore-backend/pkg/auth"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func mintTestToken(t *testing.T, role enums.ActorRole, merchantID *uuid.UUID) (string, uuid.UUID) {
	t.Helper()
	userID := uuid.New()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{UserID: userID, Role: role, MerchantID: merchantID})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, userID
}

func TestAuthRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsMerchantContext(t *testing.T) {
	merchantID := uuid.New()
	token, userID := mintTestToken(t, enums.ActorMerchant, &merchantID)

	var user, role, merchant string
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = UserIDFromContext(r.Context())
		role = RoleFromContext(r.Context())
		merchant = MerchantIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if user != userID.String() || role != string(enums.ActorMerchant) || merchant != merchantID.String() {
		t.Fatalf("unexpected context user=%s role=%s merchant=%s", user, role, merchant)
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name     string
		role     string
		merchant string
		want     int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"buyer on merchant route", string(enums.ActorBuyer), "", http.StatusForbidden},
		{"merchant without merchant id", string(enums.ActorMerchant), "", http.StatusForbidden},
		{"merchant", string(enums.ActorMerchant), uuid.NewString(), http.StatusOK},
		{"admin", string(enums.ActorAdmin), "", http.StatusOK},
	}
	for _, tc := range cases {
		ctx := context.Background()
		if tc.role != "" {
			ctx = WithRole(ctx, tc.role)
		}
		if tc.merchant != "" {
			ctx = WithMerchantID(ctx, tc.merchant)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		resp := httptest.NewRecorder()
		RequireRole(nil, enums.ActorMerchant, enums.ActorAdmin)(okHandler()).ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
	}
}

func TestAuthRejectsOtherSchemesAndExpiredTokens(t *testing.T) {
	stale, err := auth.MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), auth.AccessTokenPayload{UserID: uuid.New(), Role: enums.ActorBuyer})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	fresh, _ := mintTestToken(t, enums.ActorBuyer, nil)

	for name, header := range map[string]string{
		"basic scheme": "Basic " + fresh,
		"bare token":   fresh,
		"expired":      "Bearer " + stale,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		resp := httptest.NewRecorder()
		Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", name, resp.Code)
		}
	}
}

func TestAuthFailsClosedOnBrokenConfig(t *testing.T) {
	token, _ := mintTestToken(t, enums.ActorBuyer, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(config.JWTConfig{Issuer: "issuer"}, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}
