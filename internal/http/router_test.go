package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unibabel/internal/admission"
	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/dispatch"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/translation"
)

// prefixProvider renders "<TARGET>:<text>".
type prefixProvider struct{ calls atomic.Int32 }

func (p *prefixProvider) Translate(_ context.Context, req translation.ProviderRequest) (translation.ProviderResponse, error) {
	p.calls.Add(1)
	return translation.ProviderResponse{Text: req.TargetLanguage + ":" + req.Text, Confidence: 0.9}, nil
}

func (p *prefixProvider) Supports(code string) bool { return !strings.Contains(code, "-") }

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:router_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:  "/api/v1",
		MaxBodyBytes: 1 << 20,
		RateRPS:      1000,
		RateBurst:    1000,
		Admission:    config.AdmissionConfig{DailyCap: 5, Burst: 50, RefillRPS: 50, MaxMessageBytes: 4000},
		Session:      config.SessionConfig{QueueSize: 16, PingInterval: time.Minute, WriteTimeout: time.Second, ReadLimit: 64 << 10},
		Auth:         config.AuthConfig{Mode: "header"},
		NonceTTL:     time.Hour,
		OTEL:         config.OTELConfig{ServiceName: "test-svc"},
	}
}

// newStack builds the real core on an in-memory database.
func newStack(t *testing.T, cfg config.Config) (*gin.Engine, *realtime.Gateway, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	cache := translation.NewCache(db)
	t.Cleanup(cache.Close)
	coord := translation.NewCoordinator(cache, &prefixProvider{}, translation.Options{})
	adm := admission.New(db, cfg.Admission)
	reg := realtime.NewRegistry()
	disp := dispatch.New(db, reg, adm, coord, dispatch.WithNonceTTL(cfg.NonceTTL))

	r := gin.New()
	gw := RegisterRoutes(r, Deps{
		DB:         db,
		Registry:   reg,
		Sender:     disp,
		Quota:      adm,
		Cache:      cache,
		Translator: coord,
	}, cfg)
	return r, gw, db
}

type caller struct {
	id   int64
	role string
}

func (u caller) do(t *testing.T, r http.Handler, method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if u.id > 0 {
		req.Header.Set(middleware.HeaderUserID, strconv.FormatInt(u.id, 10))
	}
	if u.role != "" {
		req.Header.Set(middleware.HeaderUserRole, u.role)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newStack(t, testConfig())

	// /health pings the database
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":"up"`) {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "unibabel_http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	// Fallbacks: 404 and 405 with the error envelope
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("NoRoute = %d %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("NoMethod = %d", w.Code)
	}

	// Swagger stays off unless enabled
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_HealthReportsDatabaseDown(t *testing.T) {
	r, _, db := newStack(t, testConfig())
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health with closed db = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	cfg.SwaggerEnabled = true
	r, _, _ := newStack(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "UniBabel API") {
		t.Fatalf("swagger doc = %d", w.Code)
	}
}

func TestRegisterRoutes_AuthAndRoles(t *testing.T) {
	r, _, _ := newStack(t, testConfig())

	anon := caller{}
	if w := anon.do(t, r, http.MethodGet, "/api/v1/users/me/quota", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d", w.Code)
	}
	user := caller{id: 5}
	if w := user.do(t, r, http.MethodPost, "/api/v1/admin/users", map[string]any{"id": 6}); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin on admin route = %d", w.Code)
	}
	if w := user.do(t, r, http.MethodGet, "/api/v1/translations/submissions", nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin listing the review queue = %d", w.Code)
	}
	admin := caller{id: 1, role: middleware.RoleAdmin}
	w := admin.do(t, r, http.MethodPost, "/api/v1/admin/users", map[string]any{"id": 6, "preferred_language": "ja"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin upsert = %d %s", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("admin responses must not be cached, Cache-Control=%q", cc)
	}
}

// End to end over HTTP: users, a room, an idempotent send, history and quota.
func TestPipeline_SendHistoryQuota(t *testing.T) {
	r, _, _ := newStack(t, testConfig())
	admin := caller{id: 100, role: middleware.RoleAdmin}
	ana, bo := caller{id: 1}, caller{id: 2}

	for _, u := range []map[string]any{
		{"id": 1, "display_name": "Ana", "preferred_language": "PT-BR"},
		{"id": 2, "display_name": "Bo", "preferred_language": "FR"},
	} {
		if w := admin.do(t, r, http.MethodPost, "/api/v1/admin/users", u); w.Code != http.StatusOK {
			t.Fatalf("seed user: %d %s", w.Code, w.Body.String())
		}
	}

	w := ana.do(t, r, http.MethodPost, "/api/v1/chats", map[string]any{"title": "lobby", "participants": []int64{2}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat: %d %s", w.Code, w.Body.String())
	}
	var chat struct {
		ID           int64   `json:"id"`
		Participants []int64 `json:"participants"`
	}
	decodeInto(t, w, &chat)
	if len(chat.Participants) != 2 {
		t.Fatalf("participants=%v", chat.Participants)
	}
	msgs := "/api/v1/chat/" + strconv.FormatInt(chat.ID, 10) + "/messages"

	w = ana.do(t, r, http.MethodPost, msgs, map[string]string{"text": "Bom dia"}, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}
	var first struct {
		MessageID int64 `json:"message_id"`
		Replayed  bool  `json:"replayed"`
	}
	decodeInto(t, w, &first)

	w = ana.do(t, r, http.MethodPost, msgs, map[string]string{"text": "Bom dia"}, middleware.HeaderIdempotencyKey, "k-1")
	var again struct {
		MessageID int64 `json:"message_id"`
		Replayed  bool  `json:"replayed"`
	}
	decodeInto(t, w, &again)
	if w.Code != http.StatusOK || !again.Replayed || again.MessageID != first.MessageID {
		t.Fatalf("retry: %d %+v (first %+v)", w.Code, again, first)
	}

	w = bo.do(t, r, http.MethodGet, msgs, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	var page struct {
		Messages []struct {
			ID         int64  `json:"message_id"`
			SourceText string `json:"source_text"`
		} `json:"messages"`
	}
	decodeInto(t, w, &page)
	if len(page.Messages) != 1 || page.Messages[0].SourceText != "Bom dia" {
		t.Fatalf("history=%+v", page)
	}
	if w := bo.do(t, r, http.MethodGet, msgs, nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("conditional history = %d", w.Code)
	}

	// The replay did not spend quota.
	w = ana.do(t, r, http.MethodGet, "/api/v1/users/me/quota", nil)
	var q struct {
		Remaining int `json:"daily_quota_remaining"`
		Cap       int `json:"daily_cap"`
	}
	decodeInto(t, w, &q)
	if q.Cap != 5 || q.Remaining != 4 {
		t.Fatalf("quota=%+v", q)
	}

	// Outsiders cannot read or write.
	eve := caller{id: 3}
	if w := eve.do(t, r, http.MethodGet, msgs, nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider history = %d", w.Code)
	}
	if w := eve.do(t, r, http.MethodPost, msgs, map[string]string{"text": "hi"}); w.Code != http.StatusForbidden {
		t.Fatalf("outsider send = %d", w.Code)
	}
}

// An HTTP send reaches a participant's websocket in their own language.
func TestPipeline_HTTPSendFansOutToWebsocket(t *testing.T) {
	r, gw, _ := newStack(t, testConfig())
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
	}()

	admin := caller{id: 100, role: middleware.RoleAdmin}
	for _, u := range []map[string]any{{"id": 1, "preferred_language": "EN"}, {"id": 2, "preferred_language": "DE"}} {
		if w := admin.do(t, r, http.MethodPost, "/api/v1/admin/users", u); w.Code != http.StatusOK {
			t.Fatalf("seed user: %d", w.Code)
		}
	}
	w := caller{id: 1}.do(t, r, http.MethodPost, "/api/v1/chats", map[string]any{"kind": "direct", "participants": []int64{2}})
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat: %d %s", w.Code, w.Body.String())
	}
	var chat struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, w, &chat)

	hdr := http.Header{}
	hdr.Set(middleware.HeaderUserID, "2")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// A pong proves the session is registered.
	if err := conn.WriteJSON(realtime.Inbound{Op: realtime.OpPing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil || pong["op"] != realtime.OpPong {
		t.Fatalf("pong=%v err=%v", pong, err)
	}

	w = caller{id: 1}.do(t, r, http.MethodPost, "/api/v1/chat/"+strconv.FormatInt(chat.ID, 10)+"/messages", map[string]string{"text": "Good morning"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	var f realtime.MsgFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read msg: %v", err)
	}
	if f.Op != realtime.OpMsg || f.ChatID != chat.ID || f.SenderID != 1 || f.Language != "DE" || f.Text != "DE:Good morning" {
		t.Fatalf("frame=%+v", f)
	}
}

func TestNonceLookup(t *testing.T) {
	db := newTestDB(t)
	lookup := nonceLookup(db)
	hit, err := lookup(context.Background(), 1, 1, "absent", time.Now())
	if err != nil || hit {
		t.Fatalf("miss: hit=%v err=%v", hit, err)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
