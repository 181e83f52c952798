package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketcore-backend/pkg/config"
	"github.com/angelmondragon/marketcore-backend/pkg/db"
	"github.com/angelmondragon/marketcore-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations at startup, but only in dev with
// MARKETCORE_AUTO_MIGRATE on. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := New(sqlDB, DefaultDir)
	if err != nil {
		return err
	}

	done, err := m.Up(ctx)
	ctx = logg.WithFields(ctx, map[string]any{"dir": DefaultDir, "applied": len(done)})
	if err != nil {
		return err
	}
	if len(done) == 0 {
		logg.Debug(ctx, "schema up to date")
		return nil
	}
	logg.Info(logg.WithField(ctx, "version", done[len(done)-1].Version), "migrations applied")
	return nil
}
