// Translation HTTP handlers.
//
// This file exposes the translation endpoints:
//   - GET    /translations                              (one-off rendering)
//   - POST   /translations/submissions                  (propose a translation)
//   - GET    /translations/submissions                  (admin: review queue)
//   - GET    /translations/submissions/{id}             (admin or author)
//   - POST   /translations/submissions/{id}/approve     (admin)
//   - POST   /translations/submissions/{id}/reject      (admin)
//   - POST   /admin/translations/cache                  (admin: pin a rendering)
//   - DELETE /admin/translations/cache/{id}             (admin: evict)
//
// A submission is reviewed exactly once; the losing side of two concurrent
// reviews gets 409. Approval makes the suggestion the cached rendering with
// confidence 1.0.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/services"
	"github.com/tbourn/unibabel/internal/translation"
	"github.com/tbourn/unibabel/internal/utils"
)

// CreateSubmissionRequest proposes a translation.
type CreateSubmissionRequest struct {
	OriginalText         string `json:"original_text"         binding:"required" example:"Hello"`
	SuggestedTranslation string `json:"suggested_translation" binding:"required" example:"¡Hola!"`
	TargetLanguage       string `json:"target_language"       binding:"required" example:"ES"`
}

// ReviewRequest carries an optional reviewer note.
type ReviewRequest struct {
	Note string `json:"note,omitempty" example:"matches the style guide"`
}

// ReviewResponse is the outcome of a review. Entry is set on approval.
type ReviewResponse struct {
	Submission *domain.TranslationSubmission `json:"submission"`
	Entry      *translation.Entry            `json:"cache_entry,omitempty"`
}

// ListSubmissionsResponse is one page of the review queue.
type ListSubmissionsResponse struct {
	Submissions []domain.TranslationSubmission `json:"submissions"`
	Pagination  Pagination                     `json:"pagination"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// CacheEntryRequest pins an admin-authored rendering.
type CacheEntryRequest struct {
	Text           string `json:"text"                      binding:"required" example:"Good night"`
	TargetLanguage string `json:"target_language"           binding:"required" example:"FR"`
	TranslatedText string `json:"translated_text"           binding:"required" example:"Bonne nuit"`
	SourceLanguage string `json:"source_language,omitempty" example:"EN"`
}

// TranslateResponse is a one-off rendering. Error is set, and Text holds the
// input, when the provider could not be reached.
type TranslateResponse struct {
	Text           string  `json:"text"            example:"Bonjour"`
	FromCache      bool    `json:"from_cache"      example:"true"`
	Confidence     float64 `json:"confidence"      example:"0.93"`
	SourceLanguage string  `json:"source_language" example:"EN"`
	TargetLanguage string  `json:"target_language" example:"FR"`
	Error          string  `json:"error,omitempty" example:"ProviderUnavailable"`
}

// Translate godoc
// @ID          translate
// @Summary     Translate text once
// @Description Renders text into target through the shared cache and provider. A provider outage degrades
// @Description to the input text with `error: ProviderUnavailable`.
// @Tags        Translations
// @Produce     json
// @Security    BearerAuth
//
// @Param       text    query  string  true   "Text to translate"
// @Param       target  query  string  true   "Target language"  example(FR)
// @Param       source  query  string  false  "Source language (detected when absent)"
//
// @Success     200  {object}  handlers.TranslateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad text or language"
// @Router      /translations [get]
func (h *Handlers) Translate(c *gin.Context) {
	res, err := h.trSvc.Translate(c.Request.Context(), c.Query("text"), c.Query("target"), c.Query("source"))
	if err != nil {
		failErr(c, err)
		return
	}
	out := TranslateResponse{
		Text:           res.Text,
		FromCache:      res.FromCache,
		Confidence:     res.Confidence,
		SourceLanguage: res.SourceLanguage,
		TargetLanguage: res.TargetLanguage,
	}
	if res.Err != nil {
		out.Error = string(domain.CodeOf(res.Err))
	}
	ok(c, http.StatusOK, out)
}

// CreateSubmission godoc
// @ID          createSubmission
// @Summary     Propose a translation
// @Tags        Translations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateSubmissionRequest  true  "Submission"
//
// @Success     201  {object}  domain.TranslationSubmission
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /translations/submissions [post]
func (h *Handlers) CreateSubmission(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "original_text, suggested_translation and target_language are required")
		return
	}
	sub, err := h.trSvc.Submit(c.Request.Context(), uid, services.SubmissionInput{
		OriginalText:         req.OriginalText,
		SuggestedTranslation: req.SuggestedTranslation,
		TargetLanguage:       req.TargetLanguage,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, sub)
}

// ListSubmissions godoc
// @ID          listSubmissions
// @Summary     Review queue
// @Tags        Translations
// @Produce     json
// @Security    BearerAuth
//
// @Param       status     query  string  false  "pending, approved or rejected"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListSubmissionsResponse
// @Failure     403  {object}  handlers.ErrorResponse  "Admins only"
// @Router      /translations/submissions [get]
func (h *Handlers) ListSubmissions(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", domain.SubmissionPending, domain.SubmissionApproved, domain.SubmissionRejected:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status must be pending, approved or rejected")
		return
	}
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
	items, total, err := h.trSvc.List(c.Request.Context(), status, p.Number, p.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	pages := p.TotalPages(total)
	ok(c, http.StatusOK, ListSubmissionsResponse{
		Submissions: items,
		Pagination: Pagination{
			Page:       p.Number,
			PageSize:   p.Size,
			Total:      total,
			TotalPages: pages,
			HasNext:    p.Number < pages,
		},
	})
}

// GetSubmission godoc
// @ID          getSubmission
// @Summary     Get a submission
// @Description Visible to its author and to admins.
// @Tags        Translations
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Submission ID"  minimum(1)
//
// @Success     200  {object}  domain.TranslationSubmission
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /translations/submissions/{id} [get]
func (h *Handlers) GetSubmission(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	sub, err := h.trSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	// Other users' submissions are reported as missing.
	if sub.UserID != uid && c.GetString(middleware.CtxKeyRole) != middleware.RoleAdmin {
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrSubmissionNotFound.Error())
		return
	}
	ok(c, http.StatusOK, sub)
}

// ApproveSubmission godoc
// @ID          approveSubmission
// @Summary     Approve a submission
// @Description Marks the submission approved and stores its suggestion as the cached rendering (source user_submission).
// @Tags        Translations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                      true   "Submission ID"  minimum(1)
// @Param       body  body  handlers.ReviewRequest   false  "Reviewer note"
//
// @Success     200  {object}  handlers.ReviewResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already reviewed"
// @Router      /translations/submissions/{id}/approve [post]
func (h *Handlers) ApproveSubmission(c *gin.Context) {
	reviewer, id, note, okReq := reviewInput(c)
	if !okReq {
		return
	}
	sub, entry, err := h.trSvc.Approve(c.Request.Context(), id, reviewer, note)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ReviewResponse{Submission: sub, Entry: entry})
}

// RejectSubmission godoc
// @ID          rejectSubmission
// @Summary     Reject a submission
// @Tags        Translations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                      true   "Submission ID"  minimum(1)
// @Param       body  body  handlers.ReviewRequest   false  "Reviewer note"
//
// @Success     200  {object}  handlers.ReviewResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already reviewed"
// @Router      /translations/submissions/{id}/reject [post]
func (h *Handlers) RejectSubmission(c *gin.Context) {
	reviewer, id, note, okReq := reviewInput(c)
	if !okReq {
		return
	}
	sub, err := h.trSvc.Reject(c.Request.Context(), id, reviewer, note)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ReviewResponse{Submission: sub})
}

func reviewInput(c *gin.Context) (reviewer, id int64, note string, okReq bool) {
	if reviewer, okReq = currentUser(c); !okReq {
		return
	}
	if id, okReq = pathID(c, "id"); !okReq {
		return
	}
	var req ReviewRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return 0, 0, "", false
		}
	}
	return reviewer, id, req.Note, true
}

// AddCacheEntry godoc
// @ID          addCacheEntry
// @Summary     Pin a translation
// @Description Stores an admin_added rendering; it outranks user submissions and machine translations.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CacheEntryRequest  true  "Rendering"
//
// @Success     201  {object}  domain.TranslationCacheEntry
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Admins only"
// @Router      /admin/translations/cache [post]
func (h *Handlers) AddCacheEntry(c *gin.Context) {
	var req CacheEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text, target_language and translated_text are required")
		return
	}
	e, err := h.trSvc.AddCacheEntry(c.Request.Context(), services.CacheEntryInput{
		Text:           req.Text,
		TargetLanguage: req.TargetLanguage,
		TranslatedText: req.TranslatedText,
		SourceLanguage: req.SourceLanguage,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, e)
}

// EvictCacheEntry godoc
// @ID          evictCacheEntry
// @Summary     Evict a cached translation
// @Tags        Admin
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Cache entry ID"  minimum(1)
//
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /admin/translations/cache/{id} [delete]
func (h *Handlers) EvictCacheEntry(c *gin.Context) {
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	if err := h.trSvc.EvictCacheEntry(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
