package main

import (
	"context"
	"net"
	"os"

	"github.com/angelmondragon/marketcore-backend/api"
	"github.com/angelmondragon/marketcore-backend/api/routes"
	"github.com/angelmondragon/marketcore-backend/internal/bootstrap"
)

func main() {
	bootstrap.Main("api", run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	redisClient, err := rt.Redis(ctx)
	if err != nil {
		return err
	}
	store, err := rt.Secrets(ctx)
	if err != nil {
		return err
	}
	deps, err := buildDependencies(rt.Config, rt.Logger, rt.DB, redisClient, store)
	if err != nil {
		return err
	}

	// Cloud Run injects PORT; it wins over the configured one.
	port := os.Getenv("PORT")
	if port == "" {
		port = rt.Config.App.Port
	}
	addr := net.JoinHostPort("", port)

	ctx = rt.Logger.WithField(ctx, "addr", addr)
	rt.Logger.Info(ctx, "starting api server")
	return api.Serve(ctx, api.NewServer(addr, routes.NewRouter(deps)), rt.Logger)
}
