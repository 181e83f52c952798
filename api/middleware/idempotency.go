package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketcore-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/marketcore-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxIdempotentBody = 1 << 20

	defaultIdempotencyTTL = 24 * time.Hour
	// Money-moving routes keep their key for a week so a client retrying
	// after a long outage still gets the original answer.
	criticalIdempotencyTTL = 7 * 24 * time.Hour
)

type idempotentRoute struct {
	method  string
	pattern string
	ttl     time.Duration
}

// Patterns mirror the routes registered in routes.NewRouter.
var idempotentRoutes = []idempotentRoute{
	{http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/orders/{orderId}/cancel", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/orders/{orderId}/advance", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/merchants/me/topups", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/merchants/me/notifications/{notificationId}/read", defaultIdempotencyTTL},
}

type recordState string

const (
	statePending recordState = "pending"
	stateDone    recordState = "done"

	replayedHeader = "Idempotent-Replayed"
)

type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

func (r idempotencyRecord) encode() string {
	raw, _ := json.Marshal(r)
	return string(raw)
}

// IdempotencyStore adds the guarded delete used to release a reservation
// without touching a record a later request has written.
type IdempotencyStore interface {
	pkgredis.IdempotencyStore
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// idempotencyGuard tracks one request's reservation.
type idempotencyGuard struct {
	store       IdempotencyStore
	logg        *logger.Logger
	key         string
	ttl         time.Duration
	hash        string
	reservation string
}

// Idempotency makes the routes above safe to retry. The first request with a
// key reserves it, runs and stores its response; repeats with the same body
// replay that response, repeats while it is still running get 409, and a
// different body under the same key is rejected. 5xx responses release the
// key so the client can retry for real.
func Idempotency(store IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" || len(clientKey) > 255 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required (max 255 chars)"))
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			guard := &idempotencyGuard{
				store: store,
				logg:  logg,
				key:   store.IdempotencyKey(scopeFor(r), clientKey),
				ttl:   ttl,
				hash:  hashBody(body),
			}
			won, err := guard.reserve(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !won {
				guard.replay(ctx, w)
				return
			}
			guard.run(w, r, next)
		})
	}
}

func (g *idempotencyGuard) reserve(ctx context.Context) (bool, error) {
	g.reservation = idempotencyRecord{State: statePending, RequestHash: g.hash}.encode()
	return g.store.SetNX(ctx, g.key, g.reservation, g.ttl)
}

// run serves the request and records its outcome. The record must land even
// if the client hangs up, so persistence ignores request cancellation.
func (g *idempotencyGuard) run(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := context.WithoutCancel(r.Context())
	defer func() {
		if rec := recover(); rec != nil {
			g.release(ctx)
			panic(rec)
		}
	}()

	var captured bytes.Buffer
	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&captured)
	next.ServeHTTP(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		g.release(ctx)
		return
	}

	record := idempotencyRecord{
		State:       stateDone,
		RequestHash: g.hash,
		Status:      status,
		ContentType: ww.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(captured.Bytes()),
	}
	if err := g.store.Set(ctx, g.key, record.encode(), g.ttl); err != nil && g.logg != nil {
		g.logg.Error(ctx, "persist idempotency record", err)
	}
}

func (g *idempotencyGuard) release(ctx context.Context) {
	if _, err := g.store.CompareAndDelete(ctx, g.key, g.reservation); err != nil && g.logg != nil {
		g.logg.WarnErr(ctx, "release idempotency key", err)
	}
}

func (g *idempotencyGuard) replay(ctx context.Context, w http.ResponseWriter) {
	stored, err := g.store.Get(ctx, g.key)
	if errors.Is(err, redis.Nil) {
		// Released or expired between SetNX and Get: the first attempt failed.
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "previous request with this Idempotency-Key did not complete, retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != g.hash:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != stateDone:
		responses.WriteError(ctx, g.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		body, err := base64.StdEncoding.DecodeString(record.Body)
		if err != nil {
			responses.WriteError(ctx, g.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stored response"))
			return
		}
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(body)
	}
}

// scopeFor keys records per caller and concrete path, so two buyers reusing
// "retry-1" never collide.
func scopeFor(r *http.Request) string {
	return strings.Join([]string{
		UserIDFromContext(r.Context()),
		MerchantIDFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		// Mounted middleware sees a partial pattern ending in "/*".
		if pattern := rc.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, path string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.method == method && matchRoute(route.pattern, path) {
			return route.ttl, true
		}
	}
	return 0, false
}

// matchRoute compares segment by segment; "{param}" matches any non-empty
// segment. Group middleware only sees the concrete path, not the final
// pattern.
func matchRoute(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}
