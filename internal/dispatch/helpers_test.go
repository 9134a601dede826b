package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unibabel/internal/admission"
	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/translation"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:dispatch_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
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

// seedRoom creates one user per entry of langs (ids 1..n) and a room holding
// all of them.
func seedRoom(t *testing.T, db *gorm.DB, langs ...string) int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, len(langs))
	for i, code := range langs {
		ids[i] = int64(i + 1)
		if err := repo.UpsertUser(ctx, db, &domain.User{ID: ids[i], PreferredLanguage: code}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	c := &domain.Chat{Kind: domain.ChatRoom, Title: "lobby"}
	if err := repo.CreateChat(ctx, db, c, ids); err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return c.ID
}

// endpoint collects frames in memory.
type endpoint struct {
	id   string
	user int64
	echo bool

	mu     sync.Mutex
	frames []realtime.MsgFrame
}

func (e *endpoint) ID() string    { return e.id }
func (e *endpoint) UserID() int64 { return e.user }
func (e *endpoint) Echo() bool    { return e.echo }
func (e *endpoint) Close()        {}
func (e *endpoint) Enqueue(b []byte) bool {
	var f realtime.MsgFrame
	if err := json.Unmarshal(b, &f); err != nil {
		panic(err)
	}
	e.mu.Lock()
	e.frames = append(e.frames, f)
	e.mu.Unlock()
	return true
}

func (e *endpoint) got() []realtime.MsgFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]realtime.MsgFrame(nil), e.frames...)
}

// connect registers a session and joins it to the given chats.
func connect(t *testing.T, reg *realtime.Registry, id string, user int64, echo bool, chats ...int64) *endpoint {
	t.Helper()
	ep := &endpoint{id: id, user: user, echo: echo}
	if !reg.Register(ep) {
		t.Fatalf("register %s", id)
	}
	for _, c := range chats {
		if err := reg.Join(id, c); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	return ep
}

// provider renders "<TARGET>:<text>"; failing makes every call a 503.
type provider struct {
	calls   atomic.Int32
	failing atomic.Bool
}

func (p *provider) Translate(_ context.Context, req translation.ProviderRequest) (translation.ProviderResponse, error) {
	p.calls.Add(1)
	if p.failing.Load() {
		return translation.ProviderResponse{}, &translation.ProviderError{Status: 503, Body: "down"}
	}
	return translation.ProviderResponse{Text: req.TargetLanguage + ":" + req.Text, Confidence: 0.9}, nil
}

func (p *provider) Supports(code string) bool { return !strings.Contains(code, "-") }

type fixture struct {
	db    *gorm.DB
	reg   *realtime.Registry
	adm   *admission.Admitter
	prov  *provider
	d     *Dispatcher
	chat  int64
	trail *trail
}

// trail records state transitions.
type trail struct {
	mu sync.Mutex
	ts []Transition
}

func (tr *trail) add(t Transition) {
	tr.mu.Lock()
	tr.ts = append(tr.ts, t)
	tr.mu.Unlock()
}

func (tr *trail) states() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]State, len(tr.ts))
	for i, t := range tr.ts {
		out[i] = t.State
	}
	return out
}

func newFixture(t *testing.T, adm config.AdmissionConfig, langs ...string) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:    db,
		reg:   realtime.NewRegistry(),
		adm:   admission.New(db, adm),
		prov:  &provider{},
		chat:  seedRoom(t, db, langs...),
		trail: &trail{},
	}
	cache := translation.NewCache(db)
	t.Cleanup(cache.Close)
	coord := translation.NewCoordinator(cache, f.prov, translation.Options{
		RetryBase:      time.Millisecond,
		RetryCap:       2 * time.Millisecond,
		AttemptTimeout: time.Second,
	})
	f.d = New(db, f.reg, f.adm, coord, WithObserver(f.trail.add))
	return f
}

func generous() config.AdmissionConfig {
	return config.AdmissionConfig{DailyCap: 100, Burst: 100, RefillRPS: 100}
}

func usage(t *testing.T, db *gorm.DB, user int64) int {
	t.Helper()
	n, err := repo.DailyCount(context.Background(), db, user, repo.DayKey(time.Now()))
	if err != nil {
		t.Fatalf("daily count: %v", err)
	}
	return n
}
