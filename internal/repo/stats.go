// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
)

// HistoryStats returns the number of messages of chatID currently visible
// (senders not blocked) and the chat's last assigned message id. Both change
// whenever a history read could change, which makes them a cheap validator.
//
// A missing chat yields (0, 0, nil).
func HistoryStats(ctx context.Context, db *gorm.DB, chatID int64) (visible int64, lastID int64, err error) {
	if err = visibleMessages(db.WithContext(ctx), chatID).Count(&visible).Error; err != nil {
		return 0, 0, err
	}
	var row struct {
		LastMessageID int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Chat{}).
		Select("last_message_id").
		Where("id = ?", chatID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return visible, row.LastMessageID, nil
}
