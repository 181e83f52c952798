package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
)

type memoryKeys struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryKeys() *memoryKeys { return &memoryKeys{data: map[string]string{}} }

func (m *memoryKeys) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryKeys) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryKeys) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memoryKeys) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != expected {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memoryKeys) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }

func (m *memoryKeys) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryKeys) only(t *testing.T) idempotencyRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.data, 1)
	var record idempotencyRecord
	for _, v := range m.data {
		require.NoError(t, json.Unmarshal([]byte(v), &record))
	}
	return record
}

// checkoutCall builds a routed POST /api/v1/checkout carrying key and body.
func checkoutCall(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/checkout"}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func serveWith(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"checkout", http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL, true},
		{"cancel pattern", http.MethodPost, "/api/v1/orders/{orderId}/cancel", criticalIdempotencyTTL, true},
		{"cancel concrete", http.MethodPost, "/api/v1/orders/7b0c/cancel", criticalIdempotencyTTL, true},
		{"advance", http.MethodPost, "/api/v1/orders/{orderId}/advance", defaultIdempotencyTTL, true},
		{"top-up", http.MethodPost, "/api/v1/merchants/me/topups", criticalIdempotencyTTL, true},
		{"mark read", http.MethodPost, "/api/v1/merchants/me/notifications/abc/read", defaultIdempotencyTTL, true},
		{"empty segment", http.MethodPost, "/api/v1/orders//cancel", 0, false},
		{"trailing extra", http.MethodPost, "/api/v1/orders/7b0c/cancel/now", 0, false},
		{"payment callback", http.MethodPost, "/api/v1/payments/callback", 0, false},
		{"get", http.MethodGet, "/api/v1/checkout", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, ttl)
		})
	}
}

func TestIdempotencyRejectsMissingOrOversizedKey(t *testing.T) {
	called := false
	h := Idempotency(newMemoryKeys(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, key := range []string{"", "   ", strings.Repeat("k", 256)} {
		rec := serveWith(h, checkoutCall(key, `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	assert.False(t, called)
}

func TestIdempotencyPassesThroughUnlistedRoutes(t *testing.T) {
	h := Idempotency(newMemoryKeys(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	assert.Equal(t, http.StatusNoContent, serveWith(h, req).Code)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newMemoryKeys()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))

	first := serveWith(h, checkoutCall("abc", `{"cart":"c1"}`))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	second := serveWith(h, checkoutCall("abc", `{"cart":"c1"}`))
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, `{"cart":"c1"}`, second.Body.String())
	assert.Equal(t, 1, calls)

	record := store.only(t)
	assert.Equal(t, stateDone, record.State)
	assert.Equal(t, http.StatusCreated, record.Status)
}

func TestIdempotencyRejectsDifferentBodyUnderSameKey(t *testing.T) {
	h := Idempotency(newMemoryKeys(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serveWith(h, checkoutCall("xyz", `{"cart":"c1"}`))
	rec := serveWith(h, checkoutCall("xyz", `{"cart":"c2"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := newMemoryKeys()
	var duplicate *httptest.ResponseRecorder
	var h http.Handler
	h = Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if duplicate == nil {
			duplicate = serveWith(h, checkoutCall("race", `{}`))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := serveWith(h, checkoutCall("race", `{}`))
	assert.Equal(t, http.StatusCreated, first.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, duplicate))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newMemoryKeys()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	for i, want := range []int{http.StatusServiceUnavailable, http.StatusCreated, http.StatusCreated} {
		assert.Equal(t, want, serveWith(h, checkoutCall("retry", `{}`)).Code, "attempt %d", i)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyReleaseLeavesForeignRecord(t *testing.T) {
	store := newMemoryKeys()
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The reservation expired and another request finished meanwhile.
		for k := range store.data {
			store.data[k] = idempotencyRecord{State: stateDone, RequestHash: "other", Status: http.StatusCreated}.encode()
		}
		w.WriteHeader(http.StatusBadGateway)
	}))

	serveWith(h, checkoutCall("slow", `{}`))
	assert.Equal(t, "other", store.only(t).RequestHash)
}

func TestIdempotencyReleasesKeyOnPanic(t *testing.T) {
	store := newMemoryKeys()
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() { serveWith(h, checkoutCall("panic", `{}`)) })
	assert.Empty(t, store.data)
}

func TestScopeSeparatesCallers(t *testing.T) {
	a := checkoutCall("k", `{}`)
	b := checkoutCall("k", `{}`)
	a = a.WithContext(WithUserID(a.Context(), "buyer-a"))
	b = b.WithContext(WithUserID(b.Context(), "buyer-b"))

	assert.NotEqual(t, scopeFor(a), scopeFor(b))
}
