package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/services"
	"github.com/tbourn/unibabel/internal/translation"
)

// ---------- service fakes ----------

type fakeChatSvc struct {
	create func(ctx context.Context, creatorID int64, in services.CreateChatInput) (*services.ChatDetails, error)
	join   func(ctx context.Context, chatID, userID int64, password string) error
	get    func(ctx context.Context, chatID, userID int64) (*services.ChatDetails, error)
}

func (f fakeChatSvc) Create(ctx context.Context, creatorID int64, in services.CreateChatInput) (*services.ChatDetails, error) {
	return f.create(ctx, creatorID, in)
}
func (f fakeChatSvc) Join(ctx context.Context, chatID, userID int64, password string) error {
	return f.join(ctx, chatID, userID, password)
}
func (f fakeChatSvc) Get(ctx context.Context, chatID, userID int64) (*services.ChatDetails, error) {
	return f.get(ctx, chatID, userID)
}

type fakeMsgSvc struct {
	send    func(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error)
	history func(ctx context.Context, userID, chatID, before int64, limit int) ([]domain.Message, error)
	etag    string
}

func (f fakeMsgSvc) Send(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error) {
	return f.send(ctx, userID, chatID, text, nonce)
}
func (f fakeMsgSvc) History(ctx context.Context, userID, chatID, before int64, limit int) ([]domain.Message, error) {
	return f.history(ctx, userID, chatID, before, limit)
}
func (f fakeMsgSvc) HistoryETag(context.Context, int64, int64, int) (string, error) {
	return f.etag, nil
}

type fakeTrSvc struct {
	submit    func(ctx context.Context, userID int64, in services.SubmissionInput) (*domain.TranslationSubmission, error)
	get       func(ctx context.Context, id int64) (*domain.TranslationSubmission, error)
	list      func(ctx context.Context, status string, page, pageSize int) ([]domain.TranslationSubmission, int64, error)
	approve   func(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, *translation.Entry, error)
	reject    func(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, error)
	add       func(ctx context.Context, in services.CacheEntryInput) (*translation.Entry, error)
	evict     func(ctx context.Context, id int64) error
	translate func(ctx context.Context, text, target, source string) (translation.Result, error)
}

func (f fakeTrSvc) Submit(ctx context.Context, userID int64, in services.SubmissionInput) (*domain.TranslationSubmission, error) {
	return f.submit(ctx, userID, in)
}
func (f fakeTrSvc) Get(ctx context.Context, id int64) (*domain.TranslationSubmission, error) {
	return f.get(ctx, id)
}
func (f fakeTrSvc) List(ctx context.Context, status string, page, pageSize int) ([]domain.TranslationSubmission, int64, error) {
	return f.list(ctx, status, page, pageSize)
}
func (f fakeTrSvc) Approve(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, *translation.Entry, error) {
	return f.approve(ctx, id, reviewer, note)
}
func (f fakeTrSvc) Reject(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, error) {
	return f.reject(ctx, id, reviewer, note)
}
func (f fakeTrSvc) AddCacheEntry(ctx context.Context, in services.CacheEntryInput) (*translation.Entry, error) {
	return f.add(ctx, in)
}
func (f fakeTrSvc) EvictCacheEntry(ctx context.Context, id int64) error { return f.evict(ctx, id) }
func (f fakeTrSvc) Translate(ctx context.Context, text, target, source string) (translation.Result, error) {
	return f.translate(ctx, text, target, source)
}

type fakeUserSvc struct {
	upsert func(ctx context.Context, in services.UserInput) (*domain.User, error)
	update func(ctx context.Context, id int64, p services.UserPatch) (*domain.User, error)
	quota  func(ctx context.Context, userID int64) (services.Quota, error)
}

func (f fakeUserSvc) Upsert(ctx context.Context, in services.UserInput) (*domain.User, error) {
	return f.upsert(ctx, in)
}
func (f fakeUserSvc) Update(ctx context.Context, id int64, p services.UserPatch) (*domain.User, error) {
	return f.update(ctx, id, p)
}
func (f fakeUserSvc) QuotaOf(ctx context.Context, userID int64) (services.Quota, error) {
	return f.quota(ctx, userID)
}

// ---------- router + request helpers ----------

// asUser authenticates every request as uid with role, the way the header
// auth mode does. uid 0 leaves the request anonymous.
func asUser(uid int64, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if uid > 0 {
			c.Set(middleware.CtxKeyUserID, uid)
			c.Set(middleware.CtxKeyRole, role)
		}
		c.Next()
	}
}

// testRouter mounts every handler under the same paths the API uses.
func testRouter(h *Handlers, uid int64, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asUser(uid, role), middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.POST("/chats", h.CreateChat)
	r.GET("/chats/:id", h.GetChat)
	r.POST("/chats/:id/participants", h.JoinChat)
	r.POST("/chat/:id/messages", h.PostMessage)
	r.GET("/chat/:id/messages", h.ListMessages)

	r.GET("/translations", h.Translate)
	r.POST("/translations/submissions", h.CreateSubmission)
	r.GET("/translations/submissions", h.ListSubmissions)
	r.GET("/translations/submissions/:id", h.GetSubmission)
	r.POST("/translations/submissions/:id/approve", h.ApproveSubmission)
	r.POST("/translations/submissions/:id/reject", h.RejectSubmission)
	r.POST("/admin/translations/cache", h.AddCacheEntry)
	r.DELETE("/admin/translations/cache/:id", h.EvictCacheEntry)

	r.POST("/admin/users", h.UpsertUser)
	r.PATCH("/admin/users/:id", h.PatchUser)
	r.GET("/users/me/quota", h.MyQuota)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if buf.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code=%q want %q", er.Code, code)
	}
	if er.RequestID != "rid-test" {
		t.Fatalf("request_id=%q", er.RequestID)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
