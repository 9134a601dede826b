package translation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tbourn/unibabel/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:translation_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
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

func newTestCache(t *testing.T, db *gorm.DB, opts ...CacheOption) *Cache {
	t.Helper()
	c := NewCache(db, opts...)
	t.Cleanup(c.Close)
	return c
}

// fakeProvider answers "<target>:<text>" unless fail is set. gate, when
// non-nil, holds every call until it is closed.
type fakeProvider struct {
	calls    atomic.Int32
	gate     chan struct{}
	fail     func(n int32) error
	variants map[string]bool

	mu   sync.Mutex
	seen []ProviderRequest
}

func (p *fakeProvider) Translate(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	n := p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, req)
	p.mu.Unlock()
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ProviderResponse{}, ctx.Err()
		}
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return ProviderResponse{}, err
		}
	}
	return ProviderResponse{Text: req.TargetLanguage + ":" + req.Text, DetectedLanguage: "EN", Confidence: 0.93}, nil
}

func (p *fakeProvider) Supports(code string) bool {
	if len(code) == 2 {
		return true
	}
	return p.variants[code]
}

func (p *fakeProvider) requests() []ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProviderRequest(nil), p.seen...)
}

// memTier is an in-process HotTier. beforeAdd, when set, runs before every
// Add outside the lock.
type memTier struct {
	mu   sync.Mutex
	m    map[string]Entry
	gets int

	beforeAdd func(e *Entry)
}

func newMemTier() *memTier { return &memTier{m: map[string]Entry{}} }

func (h *memTier) Get(_ context.Context, n, t string) (*Entry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gets++
	e, ok := h.m[n+"|"+t]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (h *memTier) Set(_ context.Context, e *Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := e.NormalizedText + "|" + e.TargetLanguage
	if cur, ok := h.m[k]; ok && cur.Source.Rank() > e.Source.Rank() {
		return nil
	}
	h.m[k] = *e
	return nil
}

func (h *memTier) Add(_ context.Context, e *Entry) error {
	if h.beforeAdd != nil {
		h.beforeAdd(e)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	k := e.NormalizedText + "|" + e.TargetLanguage
	if _, ok := h.m[k]; !ok {
		h.m[k] = *e
	}
	return nil
}

func (h *memTier) peek(n, t string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.m[n+"|"+t]
	return e, ok
}

func (h *memTier) Delete(_ context.Context, n, t string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, n+"|"+t)
	return nil
}

func (h *memTier) has(n, t string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.m[n+"|"+t]
	return ok
}

func hasKey(h *memTier, n, t string) bool {
	_, ok := h.peek(n, t)
	return ok
}
