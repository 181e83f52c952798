package controllers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketcore-backend/api/responses"
	"github.com/angelmondragon/marketcore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketcore-backend/pkg/errors"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

const (
	envHeader    = "X-Marketcore-Env"
	readyTimeout = 3 * time.Second
)

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency concurrently and reports 503 when
// any of them fails.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		results := make(map[string]string, len(deps))
		errs := make(map[string]error, len(deps))
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		outcomes := make([]error, len(names))

		var g errgroup.Group
		for i, name := range names {
			pinger := deps[name]
			if pinger == nil {
				continue
			}
			g.Go(func() error {
				outcomes[i] = pinger.Ping(ctx)
				return nil
			})
		}
		_ = g.Wait()

		for i, name := range names {
			if deps[name] == nil {
				results[name] = "disabled"
				continue
			}
			if outcomes[i] != nil {
				results[name] = "down"
				errs[name] = outcomes[i]
				continue
			}
			results[name] = "ok"
		}

		if len(errs) > 0 {
			if logg != nil {
				for name, err := range errs {
					logg.Error(logg.WithField(r.Context(), "dependency", name), "readiness check failed", err)
				}
			}
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(results))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": results})
	}
}
