package domain

import "time"

// Source identifies who produced a cached translation.
type Source string

// Cache sources, in ascending authority.
const (
	SourceAuto           Source = "auto"
	SourceUserSubmission Source = "user_submission"
	SourceAdminAdded     Source = "admin_added"
)

// Rank orders sources by authority: admin_added > user_submission > auto.
// Unknown sources rank below auto.
func (s Source) Rank() int {
	switch s {
	case SourceAdminAdded:
		return 3
	case SourceUserSubmission:
		return 2
	case SourceAuto:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool { return s.Rank() > 0 }

// TranslationCacheEntry is the authoritative rendering of a normalized text
// in one target language. At most one row exists per
// (normalized_text, target_language).
type TranslationCacheEntry struct {
	ID             int64      `json:"cache_id"        gorm:"column:cache_id;primaryKey"`
	NormalizedText string     `json:"normalized_text" gorm:"type:text;not null;uniqueIndex:ux_cache_key,priority:1"`
	TargetLanguage string     `json:"target_language" gorm:"type:varchar(16);not null;uniqueIndex:ux_cache_key,priority:2"`
	TranslatedText string     `json:"translated_text" gorm:"type:text;not null"`
	SourceLanguage string     `json:"source_language" gorm:"type:varchar(16);not null;default:'AUTO'"`
	Confidence     float64    `json:"confidence"      gorm:"not null;default:0"`
	Source         Source     `json:"source"          gorm:"type:varchar(24);not null;check:source IN ('auto','user_submission','admin_added')"`
	SubmissionID   *int64     `json:"submission_id,omitempty"`
	TimesUsed      int64      `json:"times_used"      gorm:"not null;default:0"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for TranslationCacheEntry.
func (TranslationCacheEntry) TableName() string { return "translation_cache" }

// Submission statuses.
const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
	SubmissionRejected = "rejected"
)

// TranslationSubmission is a user-proposed translation awaiting review.
// A privileged reviewer moves it out of pending exactly once.
type TranslationSubmission struct {
	ID                   int64      `json:"id"                    gorm:"primaryKey"`
	UserID               int64      `json:"user_id"               gorm:"not null;index"`
	OriginalText         string     `json:"original_text"         gorm:"type:text;not null"`
	SuggestedTranslation string     `json:"suggested_translation" gorm:"type:text;not null"`
	TargetLanguage       string     `json:"target_language"       gorm:"type:varchar(16);not null"`
	Status               string     `json:"status"                gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','approved','rejected')"`
	ReviewedBy           *int64     `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	ReviewNote           string     `json:"review_note,omitempty" gorm:"type:text;not null;default:''"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for TranslationSubmission.
func (TranslationSubmission) TableName() string { return "translation_submissions" }
