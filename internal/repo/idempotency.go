// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides helpers for the message nonce ledger
// that makes client retries of a send idempotent.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
)

// ErrDuplicate indicates a unique constraint violation, e.g. a nonce record
// that already exists for the same (sender_id, chat_id, nonce) tuple.
var ErrDuplicate = errors.New("duplicate")

func findNonce(tx *gorm.DB, senderID, chatID int64, nonce string) (*domain.MessageNonce, error) {
	var rec domain.MessageNonce
	err := tx.Where("sender_id = ? AND chat_id = ? AND nonce = ?", senderID, chatID, nonce).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindNonceMessage returns the message recorded for a still-valid nonce, or
// ErrNotFound.
func FindNonceMessage(ctx context.Context, db *gorm.DB, senderID, chatID int64, nonce string, now time.Time) (*domain.Message, error) {
	if strings.TrimSpace(nonce) == "" {
		return nil, ErrNotFound
	}
	rec, err := findNonce(db.WithContext(ctx), senderID, chatID, nonce)
	if err != nil {
		return nil, err
	}
	if !rec.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return GetMessage(ctx, db, chatID, rec.MessageID)
}

// PurgeExpiredNonces deletes nonce records that expired before now.
func PurgeExpiredNonces(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.MessageNonce{})
	return res.RowsAffected, res.Error
}

// isDuplicate recognizes unique violations across drivers. glebarez/sqlite
// often returns plain-text errors for UNIQUE violations.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}
