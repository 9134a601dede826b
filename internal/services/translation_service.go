// Package services – TranslationService
//
// This file implements the review pipeline for user-proposed translations
// and the privileged cache administration built on top of the translation
// cache. An approved submission becomes the cached rendering for its text
// and language, outranking machine translations.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/lang"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/translation"
	"github.com/tbourn/unibabel/internal/utils"
)

// TranslationCache is the subset of *translation.Cache used here.
type TranslationCache interface {
	Upsert(ctx context.Context, in translation.UpsertInput) (*translation.Entry, error)
	Evict(ctx context.Context, id int64) error
}

// Translator renders text on demand. CacheKey maps a target language to the
// one its renderings are cached under.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) translation.Result
	CacheKey(target string) string
}

// SubmissionInput is a user-proposed translation.
type SubmissionInput struct {
	OriginalText         string
	SuggestedTranslation string
	TargetLanguage       string
}

// CacheEntryInput is an admin-authored translation.
type CacheEntryInput struct {
	Text           string
	TargetLanguage string
	TranslatedText string
	SourceLanguage string // optional
}

// TranslationService owns submissions and cache administration.
type TranslationService struct {
	DB         *gorm.DB
	Cache      TranslationCache
	Translator Translator

	// MaxTextBytes caps every text field; 0 means 4000.
	MaxTextBytes int
}

func (s *TranslationService) tracer() trace.Tracer {
	return otel.Tracer("services/TranslationService")
}

// Submit records a pending submission by userID.
func (s *TranslationService) Submit(ctx context.Context, userID int64, in SubmissionInput) (*domain.TranslationSubmission, error) {
	ctx, span := s.tracer().Start(ctx, "Submit", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	original, err := s.text(in.OriginalText)
	if err != nil {
		return nil, err
	}
	suggested, err := s.text(in.SuggestedTranslation)
	if err != nil {
		return nil, err
	}
	target, err := targetLanguage(in.TargetLanguage)
	if err != nil {
		return nil, err
	}
	sub := &domain.TranslationSubmission{
		UserID:               userID,
		OriginalText:         original,
		SuggestedTranslation: suggested,
		TargetLanguage:       target,
	}
	if err := repo.CreateSubmission(ctx, s.DB, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get fetches one submission.
func (s *TranslationService) Get(ctx context.Context, id int64) (*domain.TranslationSubmission, error) {
	sub, err := repo.GetSubmission(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	return sub, err
}

// List pages through submissions, optionally filtered by status.
func (s *TranslationService) List(ctx context.Context, status string, page, pageSize int) ([]domain.TranslationSubmission, int64, error) {
	p := utils.NewPage(page, pageSize, 20, 100)
	return repo.ListSubmissions(ctx, s.DB, status, p.Offset(), p.Size)
}

// Approve moves a pending submission to approved and stores its suggestion
// as the user_submission rendering of the original text. A submission is
// approved at most once; later attempts get ErrAlreadyReviewed.
func (s *TranslationService) Approve(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, *translation.Entry, error) {
	ctx, span := s.tracer().Start(ctx, "Approve", trace.WithAttributes(
		attribute.Int64("submission.id", id),
		attribute.Int64("reviewer.id", reviewer),
	))
	defer span.End()

	if err := s.review(ctx, id, domain.SubmissionApproved, reviewer, note); err != nil {
		return nil, nil, err
	}
	sub, err := repo.GetSubmission(ctx, s.DB, id)
	if err != nil {
		return nil, nil, err
	}

	e, err := s.Cache.Upsert(ctx, translation.UpsertInput{
		NormalizedText: translation.Normalize(sub.OriginalText),
		TargetLanguage: s.Translator.CacheKey(sub.TargetLanguage),
		TranslatedText: sub.SuggestedTranslation,
		SourceLanguage: lang.Detect(sub.OriginalText, ""),
		Source:         domain.SourceUserSubmission,
		SubmissionID:   &sub.ID,
	})
	if err != nil {
		// Put the submission back so the approval can be retried.
		if rerr := repo.ReopenSubmission(ctx, s.DB, id, reviewer); rerr != nil {
			log.Error().Err(rerr).Int64("submission_id", id).Msg("reopen after failed approval")
		}
		return nil, nil, fmt.Errorf("store approved translation: %w", err)
	}
	return sub, e, nil
}

// Reject moves a pending submission to rejected.
func (s *TranslationService) Reject(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, error) {
	ctx, span := s.tracer().Start(ctx, "Reject", trace.WithAttributes(
		attribute.Int64("submission.id", id),
		attribute.Int64("reviewer.id", reviewer),
	))
	defer span.End()

	if err := s.review(ctx, id, domain.SubmissionRejected, reviewer, note); err != nil {
		return nil, err
	}
	return repo.GetSubmission(ctx, s.DB, id)
}

func (s *TranslationService) review(ctx context.Context, id int64, status string, reviewer int64, note string) error {
	won, err := repo.ReviewSubmission(ctx, s.DB, id, status, reviewer, strings.TrimSpace(note), timeNow())
	if err != nil {
		return err
	}
	if won {
		return nil
	}
	if _, err := repo.GetSubmission(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}
	return ErrAlreadyReviewed
}

// AddCacheEntry stores an admin_added rendering, replacing whatever was
// cached for the same text and language.
func (s *TranslationService) AddCacheEntry(ctx context.Context, in CacheEntryInput) (*translation.Entry, error) {
	text, err := s.text(in.Text)
	if err != nil {
		return nil, err
	}
	translated, err := s.text(in.TranslatedText)
	if err != nil {
		return nil, err
	}
	target, err := targetLanguage(in.TargetLanguage)
	if err != nil {
		return nil, err
	}
	src := lang.Normalize(in.SourceLanguage)
	if src == "" {
		src = lang.Detect(text, "")
	}
	return s.Cache.Upsert(ctx, translation.UpsertInput{
		NormalizedText: translation.Normalize(text),
		TargetLanguage: s.Translator.CacheKey(target),
		TranslatedText: translated,
		SourceLanguage: src,
		Source:         domain.SourceAdminAdded,
	})
}

// EvictCacheEntry removes a cached rendering.
func (s *TranslationService) EvictCacheEntry(ctx context.Context, id int64) error {
	err := s.Cache.Evict(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCacheEntryNotFound
	}
	return err
}

// Translate renders text into target once, through the shared coordinator.
func (s *TranslationService) Translate(ctx context.Context, text, target, source string) (translation.Result, error) {
	if _, err := s.text(text); err != nil {
		return translation.Result{}, err
	}
	tgt, err := targetLanguage(target)
	if err != nil {
		return translation.Result{}, err
	}
	if source != "" && lang.Normalize(source) == "" {
		return translation.Result{}, fmt.Errorf("%w: %q", ErrInvalidLanguage, source)
	}
	res := s.Translator.Translate(ctx, text, tgt, source)
	if errors.Is(res.Err, translation.ErrUnsupportedLanguage) {
		return translation.Result{}, fmt.Errorf("%w: %q", ErrInvalidLanguage, target)
	}
	return res, nil
}

func (s *TranslationService) text(raw string) (string, error) {
	t := strings.TrimSpace(raw)
	if t == "" {
		return "", ErrEmptyText
	}
	limit := s.MaxTextBytes
	if limit <= 0 {
		limit = 4000
	}
	if len(t) > limit || !utf8.ValidString(t) {
		return "", ErrTextTooLong
	}
	return t, nil
}

func targetLanguage(code string) (string, error) {
	c := lang.Normalize(code)
	if c == "" || c == lang.Auto || !lang.IsSupported(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, code)
	}
	return c, nil
}
