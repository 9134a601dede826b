// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping for SQLite (pure
// Go driver) and PostgreSQL, tracing instrumentation, and schema migrations.
package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/unibabel/internal/domain"
)

// Open selects a driver from the DSN: postgres:// and postgresql:// URLs go
// to PostgreSQL, everything else (optionally prefixed with sqlite://) is a
// SQLite path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty database DSN")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"))
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
//
// SQLite allows one writer at a time and cannot upgrade a read transaction to
// a write one under contention, so the pool is pinned to a single connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if !inMemory {
		if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	if !inMemory {
		db.Exec("PRAGMA journal_mode=WAL;")
		db.Exec("PRAGMA synchronous=NORMAL;")
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		if !inMemory {
			// An in-memory database disappears with its last connection.
			sqlDB.SetConnMaxLifetime(30 * time.Minute)
		}
	}

	if err := instrument(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenPostgres connects to PostgreSQL through the pgx-backed GORM driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := instrument(db); err != nil {
		return nil, err
	}
	return db, nil
}

// instrument attaches OpenTelemetry spans to every GORM operation. Spans are
// no-ops until a tracer provider is installed.
func instrument(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Chat{},
		&domain.ChatParticipant{},
		&domain.Message{},
		&domain.MessageNonce{},
		&domain.TranslationCacheEntry{},
		&domain.TranslationSubmission{},
		&domain.DailyUsage{},
	)
}

// Ping checks database connectivity.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
