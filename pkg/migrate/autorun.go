package migrate

import (
	"context"
	"fmt"

	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

// autoRunDialect returns the goose dialect to migrate with on boot, or "" when
// boot-time migration is off. SQLite always migrates; postgres only in dev with
// PORTAL_AUTO_MIGRATE set.
func autoRunDialect(cfg *config.Config) string {
	if cfg.FeatureFlags.UseSQLite {
		return Dialect(db.DriverSQLite)
	}
	if cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate {
		return Dialect(cfg.DB.Driver)
	}
	return ""
}

// MaybeRunDev applies pending migrations at startup when autoRunDialect allows it.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	dialect := autoRunDialect(cfg)
	if dialect == "" {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	before, err := CurrentVersion(sqlDB, dialect)
	if err != nil {
		return err
	}
	if err := Run(ctx, sqlDB, dialect, "up"); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	after, err := CurrentVersion(sqlDB, dialect)
	if err != nil {
		return err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"dialect":      dialect,
		"from_version": before,
		"to_version":   after,
	}), "migrations.autorun")
	return nil
}
