// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger writes one access line per request with identifiers and
// credentials scrubbed. Bodies are never logged: a chat message body is
// user content and stays out of logs entirely.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions extends what RedactingLogger masks. Header names are
// matched case-insensitively on top of Authorization, Cookie and Set-Cookie.
// Query parameters are matched exactly on top of access_token, which carries
// the bearer token of websocket upgrades.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits only, so it cannot eat the hex groups of a UUID.
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrub replaces ids, emails and phone numbers in s. UUIDs go first because
// the phone pattern would otherwise match their digit runs.
func scrub(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

func nameSet(base []string, extra []string, fold bool) map[string]struct{} {
	set := make(map[string]struct{}, len(base)+len(extra))
	for _, n := range append(append([]string(nil), base...), extra...) {
		n = strings.TrimSpace(n)
		if fold {
			n = strings.ToLower(n)
		}
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// RedactingLogger logs method, route, scrubbed query and headers, status,
// size, latency and, once auth has run, the user id. 4xx lines are warnings
// and 5xx lines errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := nameSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders, true)
	maskQuery := nameSet([]string{"access_token"}, opts.MaskQuery, false)

	// Works on the raw query so the regex pass sees the client's spelling.
	scrubQuery := func(raw string) string {
		if raw == "" {
			return raw
		}
		pairs := strings.Split(raw, "&")
		for i, p := range pairs {
			k, _, found := strings.Cut(p, "=")
			if name, err := url.QueryUnescape(k); err == nil {
				k = name
			}
			if _, ok := maskQuery[k]; ok && found {
				pairs[i] = k + "=[REDACTED]"
			}
		}
		return scrub(strings.Join(pairs, "&"))
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrubQuery(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			keyLower := strings.ToLower(k)
			val := strings.Join(vv, ", ")
			if _, ok := maskHeaders[keyLower]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(val)
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		if uid, ok := UserID(c); ok {
			ev = ev.Int64("user_id", uid)
		}
		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
