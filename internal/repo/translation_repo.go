package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/unibabel/internal/domain"
)

// GetCacheEntry looks up the entry for (normalized, target), or ErrNotFound.
// Usage accounting is not touched.
func GetCacheEntry(ctx context.Context, db *gorm.DB, normalized, target string) (*domain.TranslationCacheEntry, error) {
	var e domain.TranslationCacheEntry
	err := db.WithContext(ctx).
		Where("normalized_text = ? AND target_language = ?", normalized, target).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetCacheEntryByID fetches an entry by cache_id, or ErrNotFound.
func GetCacheEntryByID(ctx context.Context, db *gorm.DB, id int64) (*domain.TranslationCacheEntry, error) {
	var e domain.TranslationCacheEntry
	if err := db.WithContext(ctx).Where("cache_id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertCacheEntry creates the entry for (in.NormalizedText, in.TargetLanguage)
// or updates the existing one. The stored rendering is replaced only when
// in.Source ranks at least as high as the stored source, so a machine
// translation never overwrites a reviewed one. When countUse is set the
// entry's times_used and last_used_at are bumped as well.
//
// The returned entry reflects the row after the call. created is true when
// the row did not exist before.
func UpsertCacheEntry(ctx context.Context, db *gorm.DB, in domain.TranslationCacheEntry, countUse bool, now time.Time) (out *domain.TranslationCacheEntry, created bool, err error) {
	now = now.UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := in
		row.ID = 0
		row.CreatedAt = now
		row.UpdatedAt = now
		row.TimesUsed = 0
		row.LastUsedAt = nil
		if countUse {
			row.TimesUsed = 1
			row.LastUsedAt = &now
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "normalized_text"}, {Name: "target_language"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			created = true
			out = &row
			return nil
		}

		var cur domain.TranslationCacheEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("normalized_text = ? AND target_language = ?", in.NormalizedText, in.TargetLanguage).
			First(&cur).Error; err != nil {
			return err
		}

		fields := map[string]any{}
		if countUse {
			fields["times_used"] = gorm.Expr("times_used + 1")
			fields["last_used_at"] = now
		}
		if in.Source.Rank() >= cur.Source.Rank() {
			fields["translated_text"] = in.TranslatedText
			fields["source_language"] = in.SourceLanguage
			fields["confidence"] = in.Confidence
			fields["source"] = in.Source
			fields["submission_id"] = in.SubmissionID
		}
		if len(fields) == 0 {
			out = &cur
			return nil
		}
		fields["updated_at"] = now
		if err := tx.Model(&domain.TranslationCacheEntry{}).
			Where("cache_id = ?", cur.ID).
			Updates(fields).Error; err != nil {
			return err
		}
		var fresh domain.TranslationCacheEntry
		if err := tx.Where("cache_id = ?", cur.ID).First(&fresh).Error; err != nil {
			return err
		}
		out = &fresh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// TouchCacheEntry adds n uses to an entry and stamps last_used_at. A missing
// entry (evicted meanwhile) is not an error.
func TouchCacheEntry(ctx context.Context, db *gorm.DB, id int64, n int64, now time.Time) error {
	if n <= 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.TranslationCacheEntry{}).
		Where("cache_id = ?", id).
		UpdateColumns(map[string]any{
			"times_used":   gorm.Expr("times_used + ?", n),
			"last_used_at": now.UTC(),
		}).Error
}

// EvictCacheEntry deletes an entry and returns what was removed, or
// ErrNotFound.
func EvictCacheEntry(ctx context.Context, db *gorm.DB, id int64) (*domain.TranslationCacheEntry, error) {
	var gone domain.TranslationCacheEntry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cache_id = ?", id).First(&gone).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.TranslationCacheEntry{}, "cache_id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &gone, nil
}
