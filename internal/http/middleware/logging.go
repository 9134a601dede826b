// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Correlation and recovery. Mount RequestID first so everything after it,
// the access line and panic reports included, carries the same id. The
// request-scoped logger lives under the "logger" context key.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/unibabel/internal/domain"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// maxRequestIDLen caps client-supplied ids; they end up in every log line.
	maxRequestIDLen = 128
)

// RequestID reuses the caller's X-Request-ID when it is a sane token and
// mints a UUID otherwise. The id is echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// validRequestID accepts visible ASCII only, so ids cannot smuggle control
// characters or line breaks into logs.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// ScopedLogger attaches a logger tagged with the request id, route and
// authenticated user. It writes nothing itself. Mount it after auth.
func ScopedLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		lc := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path)
		if uid, ok := UserID(c); ok {
			lc = lc.Int64("user_id", uid)
		}
		l := lc.Logger()
		c.Set("logger", &l)
		c.Next()
	}
}

// Recovery turns a panic into a logged stack trace and, when nothing has
// been written yet, the standard 500 envelope with code Internal.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := RequestIDFrom(c)
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       string(domain.CodeInternal),
				"message":    "internal error",
			})
		}()
		c.Next()
	}
}

// RequestIDFrom returns the id stored by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	s, _ := c.Value(requestIDKey).(string)
	return s
}

// LoggerFrom returns the request-scoped logger, or the global one when
// ScopedLogger did not run. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := c.Value("logger").(*zerolog.Logger); ok {
		return lg
	}
	l := log.With().Logger()
	return &l
}
