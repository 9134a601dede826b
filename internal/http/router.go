// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting, and mounts the websocket gateway.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all long-lived components injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/handlers"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/services"

	_ "github.com/tbourn/unibabel/internal/http/docs" // registers the OpenAPI document
)

// chatRepoShim adapts the repository free functions to the services.ChatRepo
// interface expected by the ChatService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type chatRepoShim struct{}

// CreateChat proxies repo.CreateChat.
func (chatRepoShim) CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat, participants []int64) error {
	return repo.CreateChat(ctx, db, c, participants)
}

// GetChat proxies repo.GetChat.
func (chatRepoShim) GetChat(ctx context.Context, db *gorm.DB, id int64) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}

// AddParticipant proxies repo.AddParticipant.
func (chatRepoShim) AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) error {
	return repo.AddParticipant(ctx, db, chatID, userID)
}

// IsParticipant proxies repo.IsParticipant.
func (chatRepoShim) IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) (bool, error) {
	return repo.IsParticipant(ctx, db, chatID, userID)
}

// ListParticipants proxies repo.ListParticipants.
func (chatRepoShim) ListParticipants(ctx context.Context, db *gorm.DB, chatID int64) ([]int64, error) {
	return repo.ListParticipants(ctx, db, chatID)
}

// GetUser proxies repo.GetUser.
func (chatRepoShim) GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	return repo.GetUser(ctx, db, id)
}

// Sender accepts sends from both transports: websocket sessions and
// session-less HTTP callers. *dispatch.Dispatcher implements it.
type Sender interface {
	realtime.Dispatcher
	services.Sender
}

// Quota is the admission surface the routes need. *admission.Admitter
// implements it.
type Quota interface {
	services.QuotaReader
	// Forget drops the per-connection send bucket of a closed session.
	Forget(connKey string)
}

// Deps carries the long-lived components behind the routes. They are built
// and closed by the caller.
type Deps struct {
	DB         *gorm.DB
	Registry   *realtime.Registry
	Sender     Sender
	Quota      Quota
	Cache      services.TranslationCache
	Translator services.Translator
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the websocket gateway so the caller can drain it on
// shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (never on /ws or /metrics)
//  8. CORS and Security headers
//
// and, on the API group only:
//  9. Authenticate: caller identity from a JWT or trusted headers
//  10. ScopedLogger: request logger tagged with the caller
//  11. Idempotency validator (before rate limiter to allow bypass on replay)
//  12. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) *realtime.Gateway {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression; upgrades and scrapes are left alone
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderUserRole, middleware.HeaderIdempotencyKey,
		"If-None-Match",
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath + "/admin/", cfg.APIBasePath + "/users/me/"},
		EnablePolicy:    true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health: the service is only useful with its database.
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx, d.DB); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health check: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "db": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "up"})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/core components
	chatSvc := services.NewChatService(d.DB, chatRepoShim{})
	msgSvc := &services.MessageService{DB: d.DB, Sender: d.Sender, Members: chatSvc}
	trSvc := &services.TranslationService{
		DB:           d.DB,
		Cache:        d.Cache,
		Translator:   d.Translator,
		MaxTextBytes: cfg.Admission.MaxMessageBytes,
	}
	userSvc := &services.UserService{DB: d.DB, Quota: d.Quota}
	h := handlers.New(chatSvc, msgSvc, trSvc, userSvc)

	auth := middleware.Authenticate(middleware.AuthOptions{Mode: cfg.Auth.Mode, Secret: cfg.Auth.JWTSecret})

	// Realtime gateway. Each session's send bucket is dropped with it.
	gw := realtime.NewGateway(d.Registry, d.Sender, chatSvc, cfg.Session,
		realtime.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		realtime.WithDisconnectHook(d.Quota.Forget),
	)
	r.GET("/ws", auth, middleware.ScopedLogger(), gw.Handler())

	// Public API
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		auth,
		middleware.ScopedLogger(),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nonceLookup(d.DB)),
		rl.Handler(),
	)
	{
		// Chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats/:id", h.GetChat)
		api.POST("/chats/:id/participants", h.JoinChat)

		// Messages
		api.POST("/chat/:id/messages", h.PostMessage)
		api.GET("/chat/:id/messages", h.ListMessages)

		// Translations
		api.GET("/translations", h.Translate)
		api.POST("/translations/submissions", h.CreateSubmission)
		api.GET("/translations/submissions/:id", h.GetSubmission)

		// Users
		api.GET("/users/me/quota", h.MyQuota)
	}

	reviewers := api.Group("", middleware.RequireRole(middleware.RoleAdmin))
	{
		reviewers.GET("/translations/submissions", h.ListSubmissions)
		reviewers.POST("/translations/submissions/:id/approve", h.ApproveSubmission)
		reviewers.POST("/translations/submissions/:id/reject", h.RejectSubmission)
	}

	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/users", h.UpsertUser)
		admin.PATCH("/users/:id", h.PatchUser)
		admin.POST("/translations/cache", h.AddCacheEntry)
		admin.DELETE("/translations/cache/:id", h.EvictCacheEntry)
	}

	return gw
}

// nonceLookup reports whether a send nonce still maps to a stored message.
func nonceLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, chatID int64, key string, now time.Time) (bool, error) {
		_, err := repo.FindNonceMessage(ctx, db, userID, chatID, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
