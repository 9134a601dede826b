package services

import (
	"context"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:svc_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// liveRepo satisfies ChatRepo with the real repository functions.
type liveRepo struct{}

func (liveRepo) CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat, p []int64) error {
	return repo.CreateChat(ctx, db, c, p)
}
func (liveRepo) GetChat(ctx context.Context, db *gorm.DB, id int64) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}
func (liveRepo) AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) error {
	return repo.AddParticipant(ctx, db, chatID, userID)
}
func (liveRepo) IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) (bool, error) {
	return repo.IsParticipant(ctx, db, chatID, userID)
}
func (liveRepo) ListParticipants(ctx context.Context, db *gorm.DB, chatID int64) ([]int64, error) {
	return repo.ListParticipants(ctx, db, chatID)
}
func (liveRepo) GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

func seedUsers(t *testing.T, db *gorm.DB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := repo.UpsertUser(context.Background(), db, &domain.User{ID: id, PreferredLanguage: "EN"}); err != nil {
			t.Fatalf("seed user %d: %v", id, err)
		}
	}
}

func newChatService(t *testing.T, db *gorm.DB) *ChatService {
	t.Helper()
	s := NewChatService(db, liveRepo{})
	s.PasswordCost = bcrypt.MinCost
	return s
}
