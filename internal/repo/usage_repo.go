package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/unibabel/internal/domain"
)

// DayKey formats t as the UTC calendar day used to bucket daily usage.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// ReserveDaily atomically takes one unit of userID's allowance for day. It
// reports false, without changing anything, when the count already reached
// limit.
func ReserveDaily(ctx context.Context, db *gorm.DB, userID int64, day string, limit int, now time.Time) (bool, error) {
	var ok bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := domain.DailyUsage{UserID: userID, Day: day, Count: 0, UpdatedAt: now.UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.DailyUsage{}).
			Where("user_id = ? AND day = ? AND count < ?", userID, day, limit).
			UpdateColumns(map[string]any{"count": gorm.Expr("count + 1"), "updated_at": now.UTC()})
		if res.Error != nil {
			return res.Error
		}
		ok = res.RowsAffected == 1
		return nil
	})
	return ok, err
}

// ReleaseDaily gives back one unit taken by ReserveDaily. The count never
// drops below zero.
func ReleaseDaily(ctx context.Context, db *gorm.DB, userID int64, day string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.DailyUsage{}).
		Where("user_id = ? AND day = ? AND count > 0", userID, day).
		UpdateColumns(map[string]any{"count": gorm.Expr("count - 1"), "updated_at": now.UTC()}).Error
}

// DailyCount returns how many units userID consumed on day.
func DailyCount(ctx context.Context, db *gorm.DB, userID int64, day string) (int, error) {
	var row struct{ Count int }
	err := db.WithContext(ctx).
		Model(&domain.DailyUsage{}).
		Select("count").
		Where("user_id = ? AND day = ?", userID, day).
		Scan(&row).Error
	return row.Count, err
}

// PurgeUsageBefore deletes usage rows for days strictly before day.
func PurgeUsageBefore(ctx context.Context, db *gorm.DB, day string) (int64, error) {
	res := db.WithContext(ctx).Where("day < ?", day).Delete(&domain.DailyUsage{})
	return res.RowsAffected, res.Error
}
