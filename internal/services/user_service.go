// Package services – UserService
//
// This file implements user administration: seeding users from the
// external identity system, blocking them, changing their rendering
// language, and reporting their remaining daily quota.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/lang"
	"github.com/tbourn/unibabel/internal/repo"
)

// timeNow is the clock used by services; tests may replace it.
var timeNow = time.Now

// QuotaReader reports daily send allowance.
type QuotaReader interface {
	Remaining(ctx context.Context, userID int64) (int, error)
	DailyCap() int
}

// UserInput creates or refreshes a user.
type UserInput struct {
	ID                int64
	DisplayName       string
	PreferredLanguage string // empty means EN
}

// UserPatch changes selected fields; nil fields are left alone.
type UserPatch struct {
	IsBlocked         *bool
	PreferredLanguage *string
}

// Quota is a user's daily allowance.
type Quota struct {
	DailyQuotaRemaining int       `json:"daily_quota_remaining"`
	DailyCap            int       `json:"daily_cap"`
	ResetsAt            time.Time `json:"resets_at"`
}

// UserService administers users.
type UserService struct {
	DB    *gorm.DB
	Quota QuotaReader
}

// Upsert creates or refreshes a user. The block flag is not touched.
func (s *UserService) Upsert(ctx context.Context, in UserInput) (*domain.User, error) {
	if in.ID <= 0 {
		return nil, ErrInvalidUserID
	}
	code := lang.Default
	if strings.TrimSpace(in.PreferredLanguage) != "" {
		c, err := targetLanguage(in.PreferredLanguage)
		if err != nil {
			return nil, err
		}
		code = c
	}
	u := &domain.User{ID: in.ID, DisplayName: normalizeTitle(in.DisplayName), PreferredLanguage: code}
	if err := repo.UpsertUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	return repo.GetUser(ctx, s.DB, in.ID)
}

// Update applies p to user id.
func (s *UserService) Update(ctx context.Context, id int64, p UserPatch) (*domain.User, error) {
	if p.PreferredLanguage != nil {
		code, err := targetLanguage(*p.PreferredLanguage)
		if err != nil {
			return nil, err
		}
		if err := repo.SetUserLanguage(ctx, s.DB, id, code); err != nil {
			return nil, s.notFound(err)
		}
	}
	if p.IsBlocked != nil {
		if err := repo.SetUserBlocked(ctx, s.DB, id, *p.IsBlocked); err != nil {
			return nil, s.notFound(err)
		}
	}
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		return nil, s.notFound(err)
	}
	return u, nil
}

// Get fetches one user.
func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if err != nil {
		return nil, s.notFound(err)
	}
	return u, nil
}

// QuotaOf reports how many sends userID has left in the current UTC day.
func (s *UserService) QuotaOf(ctx context.Context, userID int64) (Quota, error) {
	left, err := s.Quota.Remaining(ctx, userID)
	if err != nil {
		return Quota{}, err
	}
	now := timeNow().UTC()
	return Quota{
		DailyQuotaRemaining: left,
		DailyCap:            s.Quota.DailyCap(),
		ResetsAt:            time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (s *UserService) notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
