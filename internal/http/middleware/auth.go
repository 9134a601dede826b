// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file identifies callers. Two modes exist:
//   - jwt: an HS256 bearer token whose "uid" claim is the user id and whose
//     "role" claim is the caller's role. Browsers cannot set headers on a
//     websocket upgrade, so the token is also accepted as ?access_token=.
//   - header: a trusted gateway in front of the service forwards X-User-ID
//     and X-User-Role. Only for deployments where that gateway strips the
//     headers from client requests.
//
// Both modes store the caller under the "userID" (int64) and "role"
// (string) context keys.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by Authenticate.
const (
	CtxKeyUserID = "userID"
	CtxKeyRole   = "role"
)

// Identity headers read in header mode.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RoleAdmin grants access to the administrative API.
const RoleAdmin = "admin"

// Claims is the JWT payload.
type Claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for userID. It exists for operators and tests;
// production tokens come from the identity provider.
func IssueToken(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims.UserID <= 0 {
		return nil, errors.New("token carries no user id")
	}
	return claims, nil
}

// AuthOptions configures Authenticate.
type AuthOptions struct {
	Mode   string // "jwt" or "header"
	Secret string // jwt mode only
}

// Authenticate rejects anonymous requests with 401 and stores the caller
// identity in the context.
func Authenticate(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			uid  int64
			role string
			err  error
		)
		if opts.Mode == "header" {
			uid, role, err = fromHeaders(c)
		} else {
			uid, role, err = fromToken(c, opts.Secret)
		}
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(CtxKeyUserID, uid)
		c.Set(CtxKeyRole, role)
		c.Next()
	}
}

func fromHeaders(c *gin.Context) (int64, string, error) {
	raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if raw == "" {
		return 0, "", errors.New("missing " + HeaderUserID + " header")
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uid <= 0 {
		return 0, "", errors.New("invalid " + HeaderUserID + " header")
	}
	return uid, strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))), nil
}

func fromToken(c *gin.Context, secret string) (int64, string, error) {
	raw := ""
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return 0, "", errors.New("invalid authorization header format")
		}
		raw = strings.TrimSpace(parts[1])
	} else {
		raw = c.Query("access_token")
	}
	if raw == "" {
		return 0, "", errors.New("missing bearer token")
	}
	claims, err := ParseToken(secret, raw)
	if err != nil {
		return 0, "", errors.New("invalid token")
	}
	return claims.UserID, strings.ToLower(claims.Role), nil
}

// RequireRole admits only callers whose role is one of roles. It must run
// after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		have := c.GetString(CtxKeyRole)
		for _, r := range roles {
			if have != "" && have == r {
				c.Next()
				return
			}
		}
		abortAuth(c, http.StatusForbidden, "forbidden", "insufficient role")
	}
}

// UserID returns the authenticated caller, if any.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(CtxKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       code,
		"message":    msg,
	})
}
