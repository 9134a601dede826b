package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
)

// CreateSubmission stores a pending user-proposed translation.
func CreateSubmission(ctx context.Context, db *gorm.DB, s *domain.TranslationSubmission) error {
	s.Status = domain.SubmissionPending
	return db.WithContext(ctx).Create(s).Error
}

// GetSubmission fetches a submission by id, or ErrNotFound.
func GetSubmission(ctx context.Context, db *gorm.DB, id int64) (*domain.TranslationSubmission, error) {
	var s domain.TranslationSubmission
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ReviewSubmission moves a pending submission to status. It reports false
// when the submission was not pending any more (or does not exist), so that
// concurrent reviewers cannot both win.
func ReviewSubmission(ctx context.Context, db *gorm.DB, id int64, status string, reviewer int64, note string, now time.Time) (bool, error) {
	now = now.UTC()
	res := db.WithContext(ctx).
		Model(&domain.TranslationSubmission{}).
		Where("id = ? AND status = ?", id, domain.SubmissionPending).
		Updates(map[string]any{
			"status":      status,
			"reviewed_by": reviewer,
			"reviewed_at": now,
			"review_note": note,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListSubmissions pages through submissions with the given status ("" for
// all), newest first.
func ListSubmissions(ctx context.Context, db *gorm.DB, status string, offset, limit int) ([]domain.TranslationSubmission, int64, error) {
	q := db.WithContext(ctx).Model(&domain.TranslationSubmission{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.TranslationSubmission
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ReopenSubmission undoes an approval by reviewer that could not be applied,
// returning the submission to pending.
func ReopenSubmission(ctx context.Context, db *gorm.DB, id, reviewer int64) error {
	return db.WithContext(ctx).
		Model(&domain.TranslationSubmission{}).
		Where("id = ? AND status = ? AND reviewed_by = ?", id, domain.SubmissionApproved, reviewer).
		Updates(map[string]any{
			"status":      domain.SubmissionPending,
			"reviewed_by": nil,
			"reviewed_at": nil,
			"review_note": "",
			"updated_at":  time.Now().UTC(),
		}).Error
}
