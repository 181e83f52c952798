// Package bootstrap opens the resources every binary shares (config, logger,
// database, optional redis/pubsub/secrets) and tears them down in reverse.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketcore-backend/api"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
	"github.com/angelmondragon/marketcore-backend/pkg/migrate"
	"github.com/angelmondragon/marketcore-backend/pkg/pubsub"
	"github.com/angelmondragon/marketcore-backend/pkg/redis"
	"github.com/angelmondragon/marketcore-backend/pkg/secrets"
)

type closer struct {
	name  string
	close func() error
}

// Runtime is what a binary's run function receives. Anything opened through
// it is closed by Close, last opened first.
type Runtime struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []closer
}

// Main opens the runtime, hands it to run and exits non-zero when either
// fails. SIGINT/SIGTERM cancel the context passed to run.
func Main(name string, run func(ctx context.Context, rt *Runtime) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	os.Exit(execute(ctx, stop, name, run))
}

func execute(ctx context.Context, stop context.CancelFunc, name string, run func(context.Context, *Runtime) error) int {
	defer stop()

	logg := logger.New(logger.Options{ServiceName: name})
	rt, err := open(ctx, name, logg)
	if err != nil {
		logg.Error(ctx, "bootstrap failed", err)
		return 1
	}

	code := 0
	ctx = rt.Logger.WithFields(ctx, map[string]any{"env": rt.Config.App.Env, "serviceKind": name})
	if err := run(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		rt.Logger.Error(ctx, name+" stopped unexpectedly", err)
		code = 1
	}
	if err := rt.Close(); err != nil {
		rt.Logger.Error(ctx, "shutdown incomplete", err)
		code = 1
	}
	if code == 0 {
		rt.Logger.Info(ctx, name+" shut down gracefully")
	}
	return code
}

func open(ctx context.Context, name string, logg *logger.Logger) (*Runtime, error) {
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	rt := &Runtime{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Format:      cfg.App.LogFormat,
		}),
	}

	dbClient, err := db.New(ctx, cfg.DB, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rt.Defer("database", dbClient.Close)
	rt.DB = dbClient

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, dbClient); err != nil {
		return nil, multierr.Append(fmt.Errorf("dev migrations: %w", err), rt.Close())
	}
	return rt, nil
}

// Defer registers fn to run on Close.
func (rt *Runtime) Defer(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, close: fn})
}

// Close releases everything in reverse registration order and reports every
// failure, not just the first. Calling it twice is a no-op.
func (rt *Runtime) Close() error {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	rt.closers = nil
	return errs
}

// Redis connects to the configured redis and registers it for shutdown.
func (rt *Runtime) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	rt.Defer("redis", client.Close)
	return client, nil
}

// PubSub opens the pubsub client, creating subscriptions when asked to.
func (rt *Runtime) PubSub(ctx context.Context, subscriptions ...string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger, subscriptions...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	rt.Defer("pubsub", client.Close)
	return client, nil
}

// Secrets opens the provider named by MARKETCORE_SECRETS_PROVIDER; "env"
// reads plain environment variables, anything else goes to Secret Manager.
func (rt *Runtime) Secrets(ctx context.Context) (secrets.Store, error) {
	if strings.EqualFold(rt.Config.Secrets.Provider, "env") {
		return secrets.NewEnv(), nil
	}
	sm, err := secrets.NewSecretManager(ctx, rt.Config.GCP.ProjectID, rt.Config.Secrets.Version)
	if err != nil {
		return nil, fmt.Errorf("secret manager: %w", err)
	}
	rt.Defer("secret manager", sm.Close)
	return sm, nil
}

// OpsRouter serves liveness and the given registry for background workers
// that have no public API.
func OpsRouter(reg *prometheus.Registry) http.Handler {
	router := chi.NewRouter()
	router.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return router
}

// Supervise serves handler on port next to loop. Either one failing stops
// the other; cancellation is a clean exit.
func Supervise(ctx context.Context, logg *logger.Logger, port string, handler http.Handler, loop func(context.Context) error) error {
	srv := api.NewServer(net.JoinHostPort("", port), handler)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return api.Serve(groupCtx, srv, logg) })
	group.Go(func() error {
		if err := loop(groupCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
