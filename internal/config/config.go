// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// storage, translation provider, admission, realtime session and observability
// settings. A local .env file is honored when present; variables already set
// in the process environment take precedence.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "unibabel")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ProviderConfig describes the external translation provider and how hard we
// are allowed to push it.
type ProviderConfig struct {
	URL         string        // PROVIDER_URL
	Key         string        // PROVIDER_KEY (sent as Bearer token)
	Variants    []string      // PROVIDER_VARIANTS: regional codes the provider can render
	Concurrency int           // PROVIDER_CONCURRENCY: max outbound calls in flight
	Timeout     time.Duration // PROVIDER_TIMEOUT: per attempt
	RetryBase   time.Duration // PROVIDER_RETRY_BASE
	RetryCap    time.Duration // PROVIDER_RETRY_CAP
	MaxAttempts int           // PROVIDER_MAX_ATTEMPTS (first call included)
}

// AdmissionConfig holds the per-user and per-connection send limits.
type AdmissionConfig struct {
	DailyCap        int     // DAILY_MESSAGE_CAP, per user per UTC day
	Burst           int     // SEND_BURST, token bucket size per connection
	RefillRPS       float64 // SEND_REFILL_RPS
	MaxMessageBytes int     // MAX_MESSAGE_BYTES (accepts "4000" or "4 kB")
}

// SessionConfig tunes websocket sessions.
type SessionConfig struct {
	QueueSize    int           // SESSION_QUEUE, outbound frames buffered before shedding
	PingInterval time.Duration // WS_PING_INTERVAL
	WriteTimeout time.Duration // WS_WRITE_TIMEOUT
	ReadLimit    int64         // WS_READ_LIMIT (bytes, humanized sizes accepted)
}

// AuthConfig selects how callers are identified.
type AuthConfig struct {
	Mode      string // AUTH_MODE: jwt|header, default jwt
	JWTSecret string // JWT_SECRET, required for jwt mode
}

// TrustsHeaders reports whether caller identity and role are read from
// unauthenticated request headers. Only safe behind a proxy that sets them.
func (a AuthConfig) TrustsHeaders() bool { return a.Mode == "header" }

// MaintenanceConfig drives the background janitor.
type MaintenanceConfig struct {
	Cron           string        // MAINTENANCE_CRON
	UsageRetention time.Duration // USAGE_RETENTION
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBURL    string        // sqlite path or postgres:// DSN
	RedisURL string        // optional hot translation tier
	RedisTTL time.Duration // hot tier entry lifetime

	// Core
	Provider  ProviderConfig
	Admission AdmissionConfig
	Session   SessionConfig
	Auth      AuthConfig
	NonceTTL  time.Duration // how long a client nonce keeps replaying the same message

	// HTTP rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Maintenance MaintenanceConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables (after merging an
// optional .env file), applies defaults, normalizes values, and validates the
// result.
func Load() (Config, error) {
	// Missing .env is the normal case in containers.
	_ = godotenv.Load()

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getbytes("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBURL:    getenv("DB_URL", "unibabel.db"),
		RedisURL: getenv("REDIS_URL", ""),
		RedisTTL: getdur("REDIS_TTL", 24*time.Hour),

		Provider: ProviderConfig{
			URL:         getenv("PROVIDER_URL", ""),
			Key:         getenv("PROVIDER_KEY", ""),
			Variants:    splitCSV(getenv("PROVIDER_VARIANTS", "EN-US,EN-GB,PT-BR,PT-PT,ZH-HANS,ZH-HANT")),
			Concurrency: getint("PROVIDER_CONCURRENCY", 16),
			Timeout:     getdur("PROVIDER_TIMEOUT", 5*time.Second),
			RetryBase:   getdur("PROVIDER_RETRY_BASE", 200*time.Millisecond),
			RetryCap:    getdur("PROVIDER_RETRY_CAP", 4*time.Second),
			MaxAttempts: getint("PROVIDER_MAX_ATTEMPTS", 3),
		},
		Admission: AdmissionConfig{
			DailyCap:        getint("DAILY_MESSAGE_CAP", 100),
			Burst:           getint("SEND_BURST", 5),
			RefillRPS:       getfloat("SEND_REFILL_RPS", 1.0),
			MaxMessageBytes: int(getbytes("MAX_MESSAGE_BYTES", 4000)),
		},
		Session: SessionConfig{
			QueueSize:    getint("SESSION_QUEUE", 256),
			PingInterval: getdur("WS_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getdur("WS_WRITE_TIMEOUT", 10*time.Second),
			ReadLimit:    int64(getbytes("WS_READ_LIMIT", 64<<10)),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(getenv("AUTH_MODE", "jwt")),
			JWTSecret: getenv("JWT_SECRET", ""),
		},
		NonceTTL: getdur("NONCE_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Maintenance: MaintenanceConfig{
			Cron:           getenv("MAINTENANCE_CRON", "15 0 * * *"),
			UsageRetention: getdur("USAGE_RETENTION", 30*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "unibabel"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	for i, v := range cfg.Provider.Variants {
		cfg.Provider.Variants[i] = strings.ToUpper(v)
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBURL) == "" {
		return cfg, errors.New("DB_URL must not be empty")
	}
	if cfg.RedisTTL <= 0 {
		return cfg, errors.New("REDIS_TTL must be > 0")
	}
	if cfg.Provider.Concurrency < 1 {
		return cfg, errors.New("PROVIDER_CONCURRENCY must be >= 1")
	}
	if cfg.Provider.Timeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.Provider.RetryBase <= 0 || cfg.Provider.RetryCap < cfg.Provider.RetryBase {
		return cfg, errors.New("PROVIDER_RETRY_BASE must be > 0 and <= PROVIDER_RETRY_CAP")
	}
	if cfg.Provider.MaxAttempts < 1 {
		return cfg, errors.New("PROVIDER_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Admission.DailyCap < 1 {
		return cfg, errors.New("DAILY_MESSAGE_CAP must be >= 1")
	}
	if cfg.Admission.Burst < 1 {
		return cfg, errors.New("SEND_BURST must be >= 1")
	}
	if cfg.Admission.RefillRPS <= 0 {
		return cfg, errors.New("SEND_REFILL_RPS must be > 0")
	}
	if cfg.Admission.MaxMessageBytes < 1 {
		return cfg, errors.New("MAX_MESSAGE_BYTES must be >= 1")
	}
	if cfg.Session.QueueSize < 1 {
		return cfg, errors.New("SESSION_QUEUE must be >= 1")
	}
	if cfg.Session.PingInterval <= 0 || cfg.Session.WriteTimeout <= 0 {
		return cfg, errors.New("WS_PING_INTERVAL and WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.Session.ReadLimit < int64(cfg.Admission.MaxMessageBytes) {
		return cfg, errors.New("WS_READ_LIMIT must be >= MAX_MESSAGE_BYTES")
	}
	switch cfg.Auth.Mode {
	case "header":
	case "jwt":
		if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
			return cfg, errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return cfg, errors.New("AUTH_MODE must be one of: jwt, header")
	}
	if cfg.NonceTTL <= 0 {
		return cfg, errors.New("NONCE_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if !gronx.IsValid(cfg.Maintenance.Cron) {
		return cfg, errors.New("MAINTENANCE_CRON is not a valid cron expression")
	}
	if cfg.Maintenance.UsageRetention < 24*time.Hour {
		return cfg, errors.New("USAGE_RETENTION must be at least 24h")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getbytes accepts plain byte counts as well as humanized sizes ("4 kB", "64KiB").
func getbytes(k string, def uint64) uint64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := humanize.ParseBytes(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
