package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketcore-backend/api/controllers"
	"github.com/angelmondragon/marketcore-backend/api/routes"
	"github.com/angelmondragon/marketcore-backend/internal/cart"
	"github.com/angelmondragon/marketcore-backend/internal/checkout"
	"github.com/angelmondragon/marketcore-backend/internal/delivery"
	"github.com/angelmondragon/marketcore-backend/internal/ledger"
	"github.com/angelmondragon/marketcore-backend/internal/notifications"
	"github.com/angelmondragon/marketcore-backend/internal/orders"
	"github.com/angelmondragon/marketcore-backend/internal/payments"
	"github.com/angelmondragon/marketcore-backend/internal/stores"
	"github.com/angelmondragon/marketcore-backend/internal/vouchers"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/courier"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/metrics"
	"github.com/angelmondragon/marketcore-backend/pkg/outbox"
	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
	"github.com/angelmondragon/marketcore-backend/pkg/redis"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
)

func newCourier(cfg config.CourierConfig, store secrets.Store, logg *logger.Logger) (*courier.Client, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, nil
	}
	return courier.NewClient(cfg.BaseURL, cfg.TokenSecretName, store, cfg.Timeout, courier.WithLogger(logg))
}

// buildDependencies constructs every service the router serves.
func buildDependencies(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, store secrets.Store) (routes.Dependencies, error) {
	var deps routes.Dependencies

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	market := metrics.NewMarket(promRegistry)
	redisClient.Observe(market.ObserveDependency)

	gateway, err := paygate.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretName, store,
		paygate.WithHTTPClient(&http.Client{Timeout: cfg.Payment.Timeout}),
		paygate.WithVoidURL(cfg.Payment.VoidURL),
	)
	if err != nil {
		return deps, fmt.Errorf("payment gateway: %w", err)
	}

	courierClient, err := newCourier(cfg.Courier, store, logg)
	if err != nil {
		return deps, fmt.Errorf("courier: %w", err)
	}

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	nearMultiplier, err := decimal.NewFromString(cfg.Ledger.NearMultiplier)
	if err != nil {
		return deps, fmt.Errorf("ledger near multiplier: %w", err)
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(conn), emitter, logg,
		ledger.WithNearMultiplier(nearMultiplier),
		ledger.WithMetrics(market),
	)
	if err != nil {
		return deps, err
	}

	storeService, err := stores.NewService(stores.NewRepository(conn), gateway.Fees())
	if err != nil {
		return deps, err
	}
	cartService, err := cart.NewService(cart.NewRepository(conn))
	if err != nil {
		return deps, err
	}

	// A typed nil courier must not reach the interface parameters below.
	var quoter delivery.Quoter
	orderOpts := []orders.Option{orders.WithMetrics(market)}
	if courierClient != nil {
		quoter = courierClient
		orderOpts = append(orderOpts, orders.WithCourier(courierClient))
	}
	deliveryService, err := delivery.NewService(conn, quoter, logg, market)
	if err != nil {
		return deps, err
	}

	paymentsRepo := payments.NewRepository(conn)
	links, err := payments.NewLinks(paymentsRepo, dbClient, gateway, cfg.Payment, logg)
	if err != nil {
		return deps, err
	}
	orderRepo := orders.NewRepository(conn)
	orderOpts = append(orderOpts, orders.WithPaymentVoider(links))
	orderService, err := orders.NewService(orderRepo, dbClient, emitter, ledgerService, links, logg, orderOpts...)
	if err != nil {
		return deps, err
	}

	guard, err := payments.NewRedisReplayGuard(redisClient, cfg.Payment.ReplayWindow)
	if err != nil {
		return deps, err
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Repo:    paymentsRepo,
		Tx:      dbClient,
		Gateway: gateway,
		Orders:  orderService,
		Ledger:  ledgerService,
		Outbox:  emitter,
		Guard:   guard,
		Config:  cfg.Payment,
		Logger:  logg,
		Metrics: market,
	})
	if err != nil {
		return deps, err
	}

	checkoutService, err := checkout.NewService(checkout.Params{
		Tx:       dbClient,
		Repo:     checkout.NewRepository(conn),
		Cart:     cartService,
		Stores:   storeService,
		Vouchers: vouchers.NewService(),
		Orders:   orderRepo,
		Outbox:   emitter,
		Delivery: deliveryService,
		Currency: cfg.Payment.Currency,
		Logger:   logg,
		Metrics:  market,
	})
	if err != nil {
		return deps, err
	}

	notificationService, err := notifications.NewService(notifications.NewRepository(conn))
	if err != nil {
		return deps, err
	}

	return routes.Dependencies{
		Config: cfg,
		Logger: logg,
		Health: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Metrics:       promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Idempotency:   redisClient,
		RateLimits:    redisClient,
		Checkout:      checkoutService,
		Cart:          cartService,
		Orders:        orderService,
		TopUps:        links,
		Ledger:        ledgerService,
		Notifications: notificationService,
		Delivery:      deliveryService,
		Payments:      reconciler,
	}, nil
}
