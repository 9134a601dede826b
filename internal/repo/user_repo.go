package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/unibabel/internal/domain"
)

// UpsertUser inserts u or refreshes its display name and language when the id
// already exists. The block flag is only changed through SetUserBlocked.
func UpsertUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "preferred_language", "updated_at"}),
		}).
		Create(u).Error
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserBlocked flips the block flag. ErrNotFound when the user is unknown.
func SetUserBlocked(ctx context.Context, db *gorm.DB, id int64, blocked bool) error {
	return updateUser(ctx, db, id, map[string]any{"is_blocked": blocked})
}

// SetUserLanguage changes the preferred rendering language.
func SetUserLanguage(ctx context.Context, db *gorm.DB, id int64, code string) error {
	return updateUser(ctx, db, id, map[string]any{"preferred_language": code})
}

func updateUser(ctx context.Context, db *gorm.DB, id int64, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsUserBlocked reports the block flag; unknown users are not blocked.
func IsUserBlocked(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return isUserBlocked(db.WithContext(ctx), id)
}

func isUserBlocked(tx *gorm.DB, id int64) (bool, error) {
	var n int64
	err := tx.Model(&domain.User{}).Where("id = ? AND is_blocked = ?", id, true).Count(&n).Error
	return n > 0, err
}
