// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure is written as an ErrorResponse. Successes are plain JSON
// bodies, or no body at all for 204.
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client report to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable machine-readable code; see errors.go.
	Code string `json:"code" example:"InvalidChat"`
	// Safe to show to end users.
	Message string `json:"message" example:"chat 7 does not exist"`
	// Whole seconds until a rate-limited or over-quota call may succeed.
	// Mirrors the Retry-After header.
	RetryAfter int `json:"retry_after_seconds,omitempty" example:"3"`
}

// fail aborts with an ErrorResponse. 5xx responses are logged with the
// request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failRetry(c, status, code, msg, 0)
}

// failRetry is fail with a retry hint. A positive wait is rounded up to whole
// seconds and sent both as Retry-After and in the body.
func failRetry(c *gin.Context, status int, code, msg string, wait time.Duration) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}
	if wait > 0 {
		resp.RetryAfter = int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// Fail lets the router write NoRoute and NoMethod answers in the same shape.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
