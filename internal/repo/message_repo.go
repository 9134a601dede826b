// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file is the message store: durable per-chat append
// with nonce idempotency, and history reads.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/unibabel/internal/domain"
)

// History bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// AppendParams describes one message to persist.
type AppendParams struct {
	ChatID         int64
	SenderID       int64
	Text           string
	SourceLanguage string
	Metadata       map[string]any
	// Nonce, when set, makes the append idempotent per (sender, chat, nonce)
	// for NonceTTL.
	Nonce    string
	NonceTTL time.Duration
	Now      time.Time
}

// AppendMessage durably appends a message and returns it. The second result
// is true when the nonce matched an earlier append and the earlier message is
// returned instead of a new one.
//
// Failures:
//   - InvalidChat when the chat does not exist;
//   - ForbiddenSender when the sender is not a participant or is blocked.
//
// The chat row is locked for the duration of the transaction, so message ids
// are assigned strictly increasing per chat.
func AppendMessage(ctx context.Context, db *gorm.DB, p AppendParams) (*domain.Message, bool, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC().Truncate(time.Millisecond)

	var (
		out      domain.Message
		replayed bool
	)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chat domain.Chat
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chat, p.ChatID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NewError(domain.CodeInvalidChat, fmt.Sprintf("chat %d does not exist", p.ChatID))
			}
			return err
		}

		member, err := isParticipant(tx, p.ChatID, p.SenderID)
		if err != nil {
			return err
		}
		if !member {
			return domain.NewError(domain.CodeForbiddenSender, fmt.Sprintf("user %d is not a participant of chat %d", p.SenderID, p.ChatID))
		}
		blocked, err := isUserBlocked(tx, p.SenderID)
		if err != nil {
			return err
		}
		if blocked {
			return domain.NewError(domain.CodeForbiddenSender, fmt.Sprintf("user %d is blocked", p.SenderID))
		}

		if p.Nonce != "" {
			rec, err := findNonce(tx, p.SenderID, p.ChatID, p.Nonce)
			switch {
			case err == nil && rec.ExpiresAt.After(now):
				if err := tx.Where("chat_id = ? AND message_id = ?", p.ChatID, rec.MessageID).First(&out).Error; err != nil {
					return err
				}
				replayed = true
				return nil
			case err == nil:
				// Expired: the nonce may be reused.
				if err := tx.Delete(rec).Error; err != nil {
					return err
				}
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		next := chat.LastMessageID + 1
		if err := tx.Model(&domain.Chat{}).
			Where("id = ?", chat.ID).
			UpdateColumns(map[string]any{"last_message_id": next, "updated_at": now}).Error; err != nil {
			return err
		}

		src := p.SourceLanguage
		if src == "" {
			src = "AUTO"
		}
		out = domain.Message{
			ChatID:         p.ChatID,
			ID:             next,
			SenderID:       p.SenderID,
			SourceText:     p.Text,
			SourceLanguage: src,
			CreatedAt:      now,
		}
		if len(p.Metadata) > 0 {
			out.Metadata = datatypes.JSONMap(p.Metadata)
		}
		if err := tx.Omit(clause.Associations).Create(&out).Error; err != nil {
			return err
		}

		if p.Nonce != "" {
			ttl := p.NonceTTL
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			rec := &domain.MessageNonce{
				ID:        uuid.NewString(),
				SenderID:  p.SenderID,
				ChatID:    p.ChatID,
				Nonce:     p.Nonce,
				MessageID: next,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			if err := tx.Create(rec).Error; err != nil {
				if isDuplicate(err) {
					return ErrDuplicate
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, replayed, nil
}

// GetMessage fetches one message by its composite key.
func GetMessage(ctx context.Context, db *gorm.DB, chatID, messageID int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("chat_id = ? AND message_id = ?", chatID, messageID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// History returns up to limit messages of chatID, most recent first, strictly
// older than beforeID when beforeID > 0. Messages whose sender is blocked at
// read time are skipped. limit is clamped to [1, MaxHistoryLimit]; values
// <= 0 select DefaultHistoryLimit.
func History(ctx context.Context, db *gorm.DB, chatID, beforeID int64, limit int) ([]domain.Message, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	var n int64
	if err := db.WithContext(ctx).Model(&domain.Chat{}).Where("id = ?", chatID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.NewError(domain.CodeInvalidChat, fmt.Sprintf("chat %d does not exist", chatID))
	}

	out := make([]domain.Message, 0, limit)
	q := visibleMessages(db.WithContext(ctx), chatID)
	if beforeID > 0 {
		q = q.Where("messages.message_id < ?", beforeID)
	}
	err := q.Order("messages.message_id DESC").Limit(limit).Find(&out).Error
	return out, err
}

// visibleMessages scopes a query to chatID minus senders currently blocked.
func visibleMessages(db *gorm.DB, chatID int64) *gorm.DB {
	return db.Model(&domain.Message{}).
		Where("messages.chat_id = ?", chatID).
		Where("NOT EXISTS (SELECT 1 FROM users AS u WHERE u.id = messages.sender_id AND u.is_blocked = ?)", true)
}
