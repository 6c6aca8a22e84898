package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|status|current|version|create|validate")
	flag.StringVar(&opts.dir, "dir", migrate.SourceDir, "migrations source directory (create, validate)")
	flag.StringVar(&opts.name, "name", "", "migration name (create)")
	flag.StringVar(&opts.version, "version", "", "target version YYYYMMDDHHMMSS (version)")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(opts options) error {
	// file-only commands skip config and db entirely
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return fmt.Errorf("-name is required")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = db.DriverSQLite
	}
	dialect := migrate.Dialect(cfg.DB.Driver)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":     cfg.App.Env,
		"cmd":     opts.cmd,
		"dialect": dialect,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}

	if err := apply(ctx, sqlDB, dialect, opts); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		return err
	}
	logg.Info(ctx, "migrate.done")
	return nil
}

func apply(ctx context.Context, sqlDB *sql.DB, dialect string, opts options) error {
	switch opts.cmd {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, dialect, opts.cmd)
	case "current":
		v, err := migrate.CurrentVersion(sqlDB, dialect)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	case "version":
		if opts.version == "" {
			return fmt.Errorf("-version is required")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, dialect, opts.version)
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
}
