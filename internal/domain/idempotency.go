package domain

import "time"

// MessageNonce records the message produced for a client-supplied nonce,
// keyed by (sender_id, chat_id, nonce). A retried send carrying the same
// nonce within the retention window resolves to the recorded message instead
// of appending a new one.
type MessageNonce struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	SenderID  int64     `gorm:"not null;uniqueIndex:ux_sender_chat_nonce,priority:1"`
	ChatID    int64     `gorm:"not null;uniqueIndex:ux_sender_chat_nonce,priority:2"`
	Nonce     string    `gorm:"type:varchar(200);not null;uniqueIndex:ux_sender_chat_nonce,priority:3"`
	MessageID int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (MessageNonce) TableName() string { return "message_nonces" }
