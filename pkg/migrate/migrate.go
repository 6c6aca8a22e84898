package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// SourceDir is where new migrations are written relative to the repo root.
const SourceDir = "pkg/migrate/migrations"

// DefaultDir is the embedded directory goose reads from.
const DefaultDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

var gooseMu sync.Mutex

// Dialect maps a db driver name onto the goose dialect.
func Dialect(driver string) string {
	switch driver {
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return "postgres"
	}
}

// Run executes a standard goose command against the embedded migrations.
func Run(ctx context.Context, db *sql.DB, dialect string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	return withGoose(dialect, func() error {
		// RunContext prints status output to stdout (goose internal)
		if err := goose.RunContext(ctx, command, db, DefaultDir, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion migrates up/down to the requested version by comparing current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, dialect string, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return withGoose(dialect, func() error {
		current, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}

		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, db, DefaultDir, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
			return nil
		default:
			if err := goose.DownToContext(ctx, db, DefaultDir, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
			return nil
		}
	})
}

// goose keeps dialect and base FS in package globals.
func withGoose(dialect string, fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedded)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}

// CurrentVersion reports the latest applied migration version.
func CurrentVersion(db *sql.DB, dialect string) (int64, error) {
	var version int64
	err := withGoose(dialect, func() error {
		v, err := goose.GetDBVersion(db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
