// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chats and
// their participants.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a row is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/unibabel/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChat inserts a chat together with its initial participants in one
// transaction. Duplicate participant ids are ignored.
func CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat, participants []int64) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		for _, uid := range participants {
			if err := addParticipant(tx, c.ID, uid, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChat fetches a chat by id, or ErrNotFound.
func GetChat(ctx context.Context, db *gorm.DB, id int64) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// AddParticipant links userID to chatID. Re-adding an existing participant is
// a no-op.
func AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) error {
	return addParticipant(db.WithContext(ctx), chatID, userID, time.Now().UTC())
}

func addParticipant(tx *gorm.DB, chatID, userID int64, now time.Time) error {
	p := domain.ChatParticipant{ChatID: chatID, UserID: userID, JoinedAt: now}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
}

// IsParticipant reports whether userID belongs to chatID.
func IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) (bool, error) {
	return isParticipant(db.WithContext(ctx), chatID, userID)
}

func isParticipant(tx *gorm.DB, chatID, userID int64) (bool, error) {
	var n int64
	err := tx.Model(&domain.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListParticipants returns the user ids of a chat in join order.
func ListParticipants(ctx context.Context, db *gorm.DB, chatID int64) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.ChatParticipant{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ParticipantProfile is the per-recipient data needed for fan-out.
type ParticipantProfile struct {
	UserID            int64
	PreferredLanguage string
}

// ParticipantProfiles returns every participant of chatID with its language
// preference. Participants without a users row come back with an empty
// language.
func ParticipantProfiles(ctx context.Context, db *gorm.DB, chatID int64) ([]ParticipantProfile, error) {
	var out []ParticipantProfile
	err := db.WithContext(ctx).
		Table("chat_participants AS p").
		Select("p.user_id AS user_id, COALESCE(u.preferred_language, '') AS preferred_language").
		Joins("LEFT JOIN users AS u ON u.id = p.user_id").
		Where("p.chat_id = ?", chatID).
		Order("p.joined_at ASC, p.user_id ASC").
		Scan(&out).Error
	return out, err
}
