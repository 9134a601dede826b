package repo

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unibabel/internal/domain"
)

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedChat creates users (EN unless overridden) and a room containing them.
func seedChat(t *testing.T, db *gorm.DB, users ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	for _, id := range users {
		if err := UpsertUser(ctx, db, &domain.User{ID: id, PreferredLanguage: "EN"}); err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
	c := &domain.Chat{Kind: domain.ChatRoom, Title: "room"}
	if err := CreateChat(ctx, db, c, users); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return c.ID
}

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
