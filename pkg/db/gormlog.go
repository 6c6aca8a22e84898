package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lapor-warga/portal-backend/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogger adapts GORM's logger interface onto the portal logger so SQL
// lines carry the request's context fields.
type gormLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newGormLogger(logg *logger.Logger, slow time.Duration) *gormLogger {
	return &gormLogger{logg: logg, slow: slow, level: gormlogger.Warn}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.logg.Info(ctx, "gorm: "+fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.logg.Warn(ctx, "gorm: "+fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.logg.Error(ctx, "gorm: "+fmt.Sprintf(msg, args...), nil)
	}
}

// Trace logs one executed statement. Missing rows are expected lookups and
// never logged as failures.
func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := g.slow > 0 && elapsed > g.slow

	if !failed && !slow && g.level < gormlogger.Info {
		return
	}

	sql, rows := fc()
	ctx = g.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case failed && g.level >= gormlogger.Error:
		g.logg.Error(ctx, "db.query_failed", err)
	case slow && g.level >= gormlogger.Warn:
		g.logg.Warn(ctx, "db.query_slow")
	case g.level >= gormlogger.Info:
		g.logg.Debug(ctx, "db.query")
	}
}
