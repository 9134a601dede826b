package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// withSecret satisfies the default jwt auth mode.
func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	withSecret(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- defaults ---

func TestLoad_CoreDefaults(t *testing.T) {
	withSecret(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider.Concurrency != 16 || cfg.Provider.Timeout != 5*time.Second {
		t.Fatalf("provider defaults unexpected: %+v", cfg.Provider)
	}
	if cfg.Provider.RetryBase != 200*time.Millisecond || cfg.Provider.RetryCap != 4*time.Second || cfg.Provider.MaxAttempts != 3 {
		t.Fatalf("retry defaults unexpected: %+v", cfg.Provider)
	}
	if cfg.Admission.DailyCap != 100 || cfg.Admission.Burst != 5 || cfg.Admission.RefillRPS != 1 || cfg.Admission.MaxMessageBytes != 4000 {
		t.Fatalf("admission defaults unexpected: %+v", cfg.Admission)
	}
	if cfg.Session.QueueSize != 256 || cfg.Session.ReadLimit != 64<<10 {
		t.Fatalf("session defaults unexpected: %+v", cfg.Session)
	}
	if cfg.Auth.Mode != "jwt" || cfg.Auth.TrustsHeaders() || cfg.APIBasePath != "/api/v1" || cfg.DBURL != "unibabel.db" {
		t.Fatalf("misc defaults unexpected: %+v", cfg)
	}
	if cfg.Maintenance.Cron != "15 0 * * *" {
		t.Fatalf("maintenance cron default unexpected: %q", cfg.Maintenance.Cron)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/")

	t.Setenv("DB_URL", "postgres://u:p@db:5432/unibabel")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")

	t.Setenv("PROVIDER_URL", "http://mt.local/translate")
	t.Setenv("PROVIDER_KEY", "secret")
	t.Setenv("PROVIDER_VARIANTS", "pt-br, zh-hant")
	t.Setenv("PROVIDER_CONCURRENCY", "4")
	t.Setenv("PROVIDER_TIMEOUT", "750ms")

	t.Setenv("DAILY_MESSAGE_CAP", "10")
	t.Setenv("SEND_BURST", "2")
	t.Setenv("MAX_MESSAGE_BYTES", "2 kB")
	t.Setenv("SESSION_QUEUE", "8")
	t.Setenv("WS_READ_LIMIT", "32KiB")

	t.Setenv("AUTH_MODE", "JWT")
	t.Setenv("JWT_SECRET", "s3cret")

	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("NONCE_TTL", "48h")
	t.Setenv("MAINTENANCE_CRON", "*/5 * * * *")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DBURL != "postgres://u:p@db:5432/unibabel" || cfg.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("storage unexpected: %+v", cfg)
	}
	if cfg.Provider.URL != "http://mt.local/translate" || cfg.Provider.Key != "secret" ||
		cfg.Provider.Concurrency != 4 || cfg.Provider.Timeout != 750*time.Millisecond {
		t.Fatalf("provider unexpected: %+v", cfg.Provider)
	}
	if !reflect.DeepEqual(cfg.Provider.Variants, []string{"PT-BR", "ZH-HANT"}) {
		t.Fatalf("variants unexpected: %#v", cfg.Provider.Variants)
	}
	if cfg.Admission.DailyCap != 10 || cfg.Admission.Burst != 2 || cfg.Admission.MaxMessageBytes != 2000 {
		t.Fatalf("admission unexpected: %+v", cfg.Admission)
	}
	if cfg.Session.QueueSize != 8 || cfg.Session.ReadLimit != 32<<10 {
		t.Fatalf("session unexpected: %+v", cfg.Session)
	}
	if cfg.Auth.Mode != "jwt" || cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.NonceTTL != 48*time.Hour || cfg.Maintenance.Cron != "*/5 * * * *" {
		t.Fatalf("nonce/maintenance unexpected: %+v", cfg)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_URL", "DB_URL", "   ", "DB_URL must not be empty"},
		{"provider concurrency", "PROVIDER_CONCURRENCY", "0", "PROVIDER_CONCURRENCY"},
		{"provider timeout", "PROVIDER_TIMEOUT", "0s", "PROVIDER_TIMEOUT"},
		{"retry base above cap", "PROVIDER_RETRY_BASE", "10s", "PROVIDER_RETRY_BASE"},
		{"max attempts", "PROVIDER_MAX_ATTEMPTS", "0", "PROVIDER_MAX_ATTEMPTS"},
		{"daily cap", "DAILY_MESSAGE_CAP", "0", "DAILY_MESSAGE_CAP"},
		{"burst", "SEND_BURST", "0", "SEND_BURST"},
		{"refill", "SEND_REFILL_RPS", "-1", "SEND_REFILL_RPS"},
		{"session queue", "SESSION_QUEUE", "0", "SESSION_QUEUE"},
		{"read limit below message cap", "WS_READ_LIMIT", "100", "WS_READ_LIMIT"},
		{"auth mode", "AUTH_MODE", "cookie", "AUTH_MODE"},
		{"jwt without secret", "JWT_SECRET", "  ", "JWT_SECRET"},
		{"nonce ttl", "NONCE_TTL", "0s", "NONCE_TTL"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"bad cron", "MAINTENANCE_CRON", "every day", "MAINTENANCE_CRON"},
		{"short usage retention", "USAGE_RETENTION", "1h", "USAGE_RETENTION"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withSecret(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_AuthDefaultsToJWT(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil || !containsErr(err, "JWT_SECRET") {
		t.Fatalf("default auth mode must require a secret, got: %v", err)
	}

	// Header identity is an explicit opt-in and needs no secret.
	t.Setenv("AUTH_MODE", "Header")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Auth.Mode != "header" || !cfg.Auth.TrustsHeaders() {
		t.Fatalf("auth: %+v", cfg.Auth)
	}
}

func TestLoad_ReadsDotEnvWithoutOverridingEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	if err := os.WriteFile(".env", []byte("SESSION_QUEUE=33\nDAILY_MESSAGE_CAP=7\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DAILY_MESSAGE_CAP", "9")
	withSecret(t)
	// godotenv sets the variable for the process; make sure it is removed afterwards.
	t.Setenv("SESSION_QUEUE", "")
	os.Unsetenv("SESSION_QUEUE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Session.QueueSize != 33 {
		t.Fatalf("expected SESSION_QUEUE from .env, got %d", cfg.Session.QueueSize)
	}
	if cfg.Admission.DailyCap != 9 {
		t.Fatalf("process env must win over .env, got %d", cfg.Admission.DailyCap)
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur_getbytes(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}

	t.Setenv("S_PLAIN", "4000")
	if getbytes("S_PLAIN", 1) != 4000 {
		t.Fatalf("getbytes plain parse failed")
	}
	t.Setenv("S_HUMAN", "64KiB")
	if getbytes("S_HUMAN", 1) != 64<<10 {
		t.Fatalf("getbytes humanized parse failed")
	}
	t.Setenv("S_BAD", "lots")
	if getbytes("S_BAD", 5) != 5 {
		t.Fatalf("getbytes default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		t.Setenv("B_T", v)
		if !getbool("B_T", false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for _, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		t.Setenv("B_F", v)
		if getbool("B_F", true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	want := []string{"a", "b", "c"}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
