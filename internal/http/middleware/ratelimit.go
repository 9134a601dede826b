// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file is the edge limiter of the REST API. It keys a token bucket per
// caller and answers 429 with the wait until the caller's next token.
// Message admission keeps its own per-user quota and per-connection buckets
// behind it. Replays flagged by IdempotencyValidator pass without a token.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/admission"
)

// keyFunc selects the identity a request is limited as.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the authenticated user id, falling back
// to the client IP ("user:42", "ip:203.0.113.7").
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid, ok := UserID(c); ok {
			return "user:" + strconv.FormatInt(uid, 10)
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimiter limits requests per caller identity. It is safe for
// concurrent use.
type RateLimiter struct {
	buckets *admission.Buckets
	keyFn   keyFunc
	now     func() time.Time
}

// NewRateLimiter allows rps requests per second per key with bursts of up
// to burst requests.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		buckets: admission.NewBuckets(rps, burst),
		keyFn:   keyFn,
		now:     time.Now,
	}
}

// IsRateBypass reports whether IdempotencyValidator marked this request as
// a replay of a stored send.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A rejected request gets
//
//	HTTP/1.1 429 Too Many Requests
//	Retry-After: <whole seconds, at least 1>
//	{"request_id": "...", "code": "rate_limited", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		allowed, wait := rl.buckets.Take(rl.keyFn(c), rl.now())
		if allowed {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
