// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Two families of codes reach clients:
//   - the realtime error taxonomy (NotJoined, ForbiddenSender, InvalidChat,
//     MessageTooLarge, RateLimited, DailyQuotaExceeded, Internal), returned
//     verbatim so HTTP and websocket clients branch on the same strings;
//   - generic snake_case codes for failures only the HTTP API can produce
//     (bad_request, not_found, already_reviewed, ...).
//
// Example response:
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: 3
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "RateLimited",
//	  "message": "send rate exceeded",
//	  "retry_after_seconds": 3
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidLanguage = "invalid_language"
	ErrCodeWrongPassword   = "wrong_password"
	ErrCodeNotJoinable     = "not_joinable"
	ErrCodeAlreadyReviewed = "already_reviewed"
)

// domainStatus maps the realtime taxonomy onto HTTP statuses.
var domainStatus = map[domain.Code]int{
	domain.CodeNotJoined:          http.StatusForbidden,
	domain.CodeForbiddenSender:    http.StatusForbidden,
	domain.CodeInvalidChat:        http.StatusNotFound,
	domain.CodeMessageTooLarge:    http.StatusRequestEntityTooLarge,
	domain.CodeRateLimited:        http.StatusTooManyRequests,
	domain.CodeDailyQuotaExceeded: http.StatusTooManyRequests,
	domain.CodeBadFrame:           http.StatusBadRequest,
}

// failErr writes the response for an error returned by a service.
func failErr(c *gin.Context, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		if status, ok := domainStatus[de.Code]; ok {
			msg := de.Reason
			if msg == "" {
				msg = string(de.Code)
			}
			failRetry(c, status, string(de.Code), msg, de.RetryAfter)
			return
		}
	}

	switch {
	case errors.Is(err, services.ErrEmptyText),
		errors.Is(err, services.ErrTextTooLong),
		errors.Is(err, services.ErrInvalidUserID),
		errors.Is(err, services.ErrInvalidKind),
		errors.Is(err, services.ErrDirectParticipants):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidLanguage):
		fail(c, http.StatusBadRequest, ErrCodeInvalidLanguage, err.Error())
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrSubmissionNotFound),
		errors.Is(err, services.ErrCacheEntryNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrWrongPassword):
		fail(c, http.StatusForbidden, ErrCodeWrongPassword, err.Error())
	case errors.Is(err, services.ErrNotJoinable):
		fail(c, http.StatusForbidden, ErrCodeNotJoinable, err.Error())
	case errors.Is(err, services.ErrAlreadyReviewed):
		fail(c, http.StatusConflict, ErrCodeAlreadyReviewed, err.Error())
	default:
		// Details stay in the log.
		middleware.LoggerFrom(c).Error().Err(err).Msg("request failed")
		fail(c, http.StatusInternalServerError, string(domain.CodeInternal), "internal error")
	}
}
