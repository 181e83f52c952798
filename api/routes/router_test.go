package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	checkoutsvc "github.com/angelmondragon/marketcore-backend/internal/checkout"
	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	pkgAuth "github.com/angelmondragon/marketcore-backend/pkg/auth"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db/models"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

type stubCheckout struct{ calls int }

func (s *stubCheckout) PlaceOrder(ctx context.Context, input checkoutsvc.PlaceOrderInput) (*checkoutsvc.Result, error) {
	s.calls++
	return &checkoutsvc.Result{Succeeded: len(input.Stores)}, nil
}

type stubLedger struct{}

func (stubLedger) StatementForOwner(ctx context.Context, ownerUserID uuid.UUID, params pagination.Params) (*ledger.Statement, error) {
	return &ledger.Statement{Merchant: models.Merchant{ID: uuid.New(), Balance: decimal.NewFromInt(10)}}, nil
}

type stubPayments struct{}

func (stubPayments) ApplyStatus(ctx context.Context, cb paygate.Callback) (*payments.Outcome, error) {
	return &payments.Outcome{Applied: true}, nil
}

func (stubPayments) ResolveRedirect(ctx context.Context, cb paygate.Callback) (string, error) {
	return "https://shop.example/order/success", nil
}

type memoryIdempotency struct{ values map[string]string }

func (m *memoryIdempotency) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryIdempotency) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryIdempotency) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.values[key] = value.(string)
	return nil
}

func (m *memoryIdempotency) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryIdempotency) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryIdempotency) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60},
	}
}

type testRouter struct {
	handler     http.Handler
	checkout    *stubCheckout
	idempotency *memoryIdempotency
}

func newTestRouter(cfg *config.Config) *testRouter {
	tr := &testRouter{checkout: &stubCheckout{}, idempotency: &memoryIdempotency{values: map[string]string{}}}
	tr.handler = NewRouter(Dependencies{
		Config:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard}),
		Metrics:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Idempotency: tr.idempotency,
		Checkout:    tr.checkout,
		Ledger:      stubLedger{},
		Payments:    stubPayments{},
	})
	return tr
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	payload := pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role}
	if role == enums.ActorMerchant {
		merchantID := uuid.New()
		payload.MerchantID = &merchantID
	}
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(tr *testRouter, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	tr.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	tr := newTestRouter(testConfig())
	if rec := serve(tr, httptest.NewRequest(http.MethodGet, "/health/live", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if rec := serve(tr, httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}

func TestPrivateGroupRequiresJWT(t *testing.T) {
	cfg := testConfig()
	tr := newTestRouter(cfg)

	if rec := serve(tr, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorBuyer))
	if rec := serve(tr, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", rec.Code)
	}
}

func TestMerchantRoutesRequireMerchantRole(t *testing.T) {
	cfg := testConfig()
	tr := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/merchants/me/ledger", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorBuyer))
	if rec := serve(tr, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for buyer got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/merchants/me/ledger", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorMerchant))
	if rec := serve(tr, req); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for merchant got %d", rec.Code)
	}
}

func TestAdvanceRejectsBuyers(t *testing.T) {
	cfg := testConfig()
	tr := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/advance", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorBuyer))
	req.Header.Set("Idempotency-Key", "k")
	if rec := serve(tr, req); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestCheckoutRequiresIdempotencyKeyAndReplays(t *testing.T) {
	cfg := testConfig()
	tr := newTestRouter(cfg)
	token := buildToken(t, cfg, enums.ActorBuyer)
	body := `{"dropoff":{"address":"x","lat":1,"lng":2,"contact":{"name":"a","phone":"b"}},"stores":[{"store_id":"` + uuid.NewString() + `","delivery_method":"own_delivery","payment_method":"cod"}]}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := serve(tr, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "checkout-1")
		if rec := serve(tr, req); rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	if tr.checkout.calls != 1 {
		t.Fatalf("expected one placement, got %d", tr.checkout.calls)
	}
}

func TestPaymentCallbackIsPublic(t *testing.T) {
	tr := newTestRouter(testConfig())
	form := url.Values{"txnid": {uuid.NewString()}, "status": {"S"}, "digest": {"d"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(tr, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "result=OK" {
		t.Fatalf("unexpected callback response %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(tr, httptest.NewRequest(http.MethodGet, "/api/v1/payments/result?status=S", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302 got %d", rec.Code)
	}
}
