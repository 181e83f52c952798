package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/marketcore-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/marketcore-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/marketcore-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marketcore-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/marketcore-backend/internal/checkout"
	"github.com/angelmondragon/marketcore-backend/internal/delivery"
	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/notifications"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/enums"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/pagination"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

type CheckoutService interface {
	PlaceOrder(ctx context.Context, input checkoutsvc.PlaceOrderInput) (*checkoutsvc.Result, error)
}

type TopUpService interface {
	RequestTopUpLink(ctx context.Context, ownerUserID uuid.UUID, amount decimal.Decimal, processor string) (*payments.TopUpLink, error)
}

type LedgerService interface {
	StatementForOwner(ctx context.Context, ownerUserID uuid.UUID, params pagination.Params) (*ledger.Statement, error)
}

type DeliveryService interface {
	QuoteForStore(ctx context.Context, in delivery.QuoteInput) (*delivery.Quote, error)
}

type PaymentCallbacks interface {
	ApplyStatus(ctx context.Context, cb paygate.Callback) (*payments.Outcome, error)
	ResolveRedirect(ctx context.Context, cb paygate.Callback) (string, error)
}

type RateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(policy, subject string) string
}

// Dependencies is everything the HTTP surface is wired to. Nil services
// answer 500 from their handlers rather than failing router construction.
type Dependencies struct {
	Config  *config.Config
	Logger  *logger.Logger
	Health  map[string]controllers.Pinger
	Metrics http.Handler

	Idempotency middleware.IdempotencyStore
	RateLimits  RateLimitStore

	Checkout      CheckoutService
	Cart          cartcontrollers.Service
	Orders        ordercontrollers.Service
	TopUps        TopUpService
	Ledger        LedgerService
	Notifications notifications.Service
	Delivery      DeliveryService
	Payments      PaymentCallbacks
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	limiter := deps.RateLimits
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.CheckoutWindow, cfg.RateLimit.CheckoutLimit, middleware.ByUser)
	callbackPolicy := middleware.NewRateLimitPolicy("payment_callback", cfg.RateLimit.CallbackWindow, cfg.RateLimit.CallbackLimit, middleware.ByClientIP)
	quotePolicy := middleware.NewRateLimitPolicy("delivery_quote", cfg.RateLimit.QuoteWindow, cfg.RateLimit.QuoteLimit, middleware.ByUser)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Health))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.With(middleware.RateLimit(callbackPolicy, limiter, logg)).Post("/callback", webhookcontrollers.PaymentCallback(deps.Payments, logg))
		r.Get("/result", webhookcontrollers.PaymentResult(deps.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/ping", controllers.PrivatePing())
		r.With(middleware.RateLimit(quotePolicy, limiter, logg)).Post("/delivery/quote", controllers.DeliveryQuote(deps.Delivery, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorBuyer))
			r.With(middleware.RateLimit(checkoutPolicy, limiter, logg)).Post("/checkout", controllers.Checkout(deps.Checkout, logg))
			r.Get("/cart", cartcontrollers.CartFetch(deps.Cart, logg))
			r.Post("/cart/entries", cartcontrollers.CartAddEntry(deps.Cart, logg))
			r.Get("/orders", ordercontrollers.ListBuyer(deps.Orders, logg))
		})

		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", ordercontrollers.Detail(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.ActorMerchant, enums.ActorAdmin)).Post("/advance", ordercontrollers.Advance(deps.Orders, logg))
			r.Post("/cancel", ordercontrollers.Cancel(deps.Orders, logg))
		})

		r.With(middleware.RequireRole(logg, enums.ActorMerchant, enums.ActorAdmin)).
			Get("/stores/{storeId}/orders", ordercontrollers.ListStore(deps.Orders, logg))

		r.Route("/merchants/me", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorMerchant))
			r.Post("/topups", controllers.MerchantTopUp(deps.TopUps, logg))
			r.Get("/ledger", controllers.MerchantLedger(deps.Ledger, logg))
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
				r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			})
		})
	})

	return r
}
