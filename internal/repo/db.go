// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-todo-backend/internal/domain"
)

// openOptions collects the knobs accepted by OpenSQLite.
type openOptions struct {
	tracing bool
	logger  gormlogger.Interface
}

// OpenOption customizes OpenSQLite.
type OpenOption func(*openOptions)

// WithTracing installs the GORM OpenTelemetry plugin so every query emits a
// span under the caller's trace.
func WithTracing() OpenOption {
	return func(o *openOptions) { o.tracing = true }
}

// WithLogger replaces the default zerolog-backed GORM logger.
func WithLogger(l gormlogger.Interface) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string, opts ...OpenOption) (*gorm.DB, error) {
	o := openOptions{logger: NewZerologGormLogger(200 * time.Millisecond)}
	for _, opt := range opts {
		opt(&o)
	}

	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: o.logger})
	if err != nil {
		return nil, err
	}

	if o.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, err
		}
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the tables for all persisted models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Item{},
		&domain.Idempotency{},
	)
}

// zerologWriter adapts the global zerolog logger to gorm's logger.Writer.
type zerologWriter struct{}

// Printf emits GORM's formatted message at warn level; GORM only writes
// through the Writer for slow queries and errors at the configured level.
func (zerologWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// NewZerologGormLogger returns a GORM logger that writes through zerolog,
// reports queries slower than slow, and skips ErrRecordNotFound (a normal
// outcome for lookups by id).
func NewZerologGormLogger(slow time.Duration) gormlogger.Interface {
	return gormlogger.New(zerologWriter{}, gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
