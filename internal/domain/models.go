// Package domain defines the persistence models for users, chats, messages,
// translations and usage accounting. These types are mapped with GORM and
// form the core data layer shared by the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Chat kinds.
const (
	ChatDirect = "direct"
	ChatRoom   = "room"
)

// User is a chat participant. Users are provisioned by an external identity
// system; the core only reads the language preference and the block flag.
//
// Fields:
//   - ID: stable integer identity assigned upstream.
//   - PreferredLanguage: canonical upper-case code (see package lang).
//   - IsBlocked: hides the user's messages from history and refuses sends.
type User struct {
	ID                int64     `json:"id"                 gorm:"primaryKey;autoIncrement:false"`
	DisplayName       string    `json:"display_name"       gorm:"type:varchar(120);not null;default:''"`
	PreferredLanguage string    `json:"preferred_language" gorm:"type:varchar(16);not null;default:'EN'"`
	IsBlocked         bool      `json:"is_blocked"         gorm:"not null;default:false;index"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chat is a durable conversation with a fixed participant set. A direct chat
// has exactly two participants; a room may have many.
//
// LastMessageID is the per-chat message counter. It is bumped under a row
// lock inside the append transaction, which makes message ids strictly
// increasing within a chat.
type Chat struct {
	ID            int64     `json:"id"              gorm:"primaryKey"`
	Kind          string    `json:"kind"            gorm:"type:varchar(16);not null;check:kind IN ('direct','room')"`
	Title         string    `json:"title"           gorm:"type:varchar(255);not null;default:''"`
	IsPublic      bool      `json:"is_public"       gorm:"not null;default:false"`
	PasswordHash  *string   `json:"-"               gorm:"type:varchar(100)"`
	LastMessageID int64     `json:"last_message_id" gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatParticipant links a user to a chat.
type ChatParticipant struct {
	ChatID   int64     `json:"chat_id"   gorm:"primaryKey;autoIncrement:false"`
	UserID   int64     `json:"user_id"   gorm:"primaryKey;autoIncrement:false;index:idx_participant_user"`
	JoinedAt time.Time `json:"joined_at" gorm:"not null"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatParticipant.
func (ChatParticipant) TableName() string { return "chat_participants" }

// Message is a single immutable utterance within a chat, keyed by
// (chat_id, message_id).
type Message struct {
	ChatID         int64             `json:"chat_id"         gorm:"primaryKey;autoIncrement:false"`
	ID             int64             `json:"message_id"      gorm:"column:message_id;primaryKey;autoIncrement:false"`
	SenderID       int64             `json:"sender_id"       gorm:"not null;index:idx_msg_sender"`
	SourceText     string            `json:"source_text"     gorm:"type:text;not null"`
	SourceLanguage string            `json:"source_language" gorm:"type:varchar(16);not null;default:'AUTO'"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"      gorm:"not null;autoCreateTime:false"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// DailyUsage counts messages a user persisted on one UTC calendar day.
type DailyUsage struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Day       string    `gorm:"type:char(10);primaryKey;index"` // YYYY-MM-DD
	Count     int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for DailyUsage.
func (DailyUsage) TableName() string { return "daily_usage" }
