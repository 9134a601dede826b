// Package translation holds the translation cache, the provider client and
// the coordinator that guarantees each (normalized text, target language)
// pair is computed at most once.
package translation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/repo"
)

// autoConfidenceCeiling keeps machine translations strictly below the 1.0
// reserved for reviewed entries.
const autoConfidenceCeiling = 0.99

// Entry is a cached rendering.
type Entry = domain.TranslationCacheEntry

// Source re-exports the cache source type.
type Source = domain.Source

// UpsertInput is the payload of Cache.Upsert. NormalizedText must already be
// normalized and TargetLanguage canonical.
type UpsertInput struct {
	NormalizedText string
	TargetLanguage string
	TranslatedText string
	SourceLanguage string
	Confidence     float64
	Source         domain.Source
	SubmissionID   *int64
}

// HotTier is an optional fast read tier in front of the database.
//
// Set must not replace an entry whose source outranks e.Source. Add must only
// write when nothing is held for the key. Both are atomic per key.
type HotTier interface {
	Get(ctx context.Context, normalized, target string) (*Entry, bool, error)
	Set(ctx context.Context, e *Entry) error
	Add(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, normalized, target string) error
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithHotTier places h in front of the database.
func WithHotTier(h HotTier) CacheOption { return func(c *Cache) { c.hot = h } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) CacheOption { return func(c *Cache) { c.now = now } }

// WithAccountingBuffer sizes the queue of pending hit records.
func WithAccountingBuffer(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// Cache is the durable translation cache. Lookups are pure reads; hit
// accounting is queued and applied by a background worker, so a slow write
// never delays a reader. Accounting is best effort and dropped when the queue
// is full.
type Cache struct {
	db      *gorm.DB
	hot     HotTier
	now     func() time.Time
	bufSize int

	uses     chan int64
	flushReq chan chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewCache builds a Cache and starts its accounting worker. Call Close to
// stop it.
func NewCache(db *gorm.DB, opts ...CacheOption) *Cache {
	c := &Cache{db: db, now: time.Now, bufSize: 1024}
	for _, o := range opts {
		o(c)
	}
	c.uses = make(chan int64, c.bufSize)
	c.flushReq = make(chan chan struct{})
	c.done = make(chan struct{})
	go c.account()
	return c
}

// Lookup returns the entry for (normalized, target), or ok=false on a miss.
// A hit is recorded asynchronously.
func (c *Cache) Lookup(ctx context.Context, normalized, target string) (*Entry, bool, error) {
	if c.hot != nil {
		e, ok, err := c.hot.Get(ctx, normalized, target)
		if err != nil {
			log.Debug().Err(err).Msg("hot tier read failed")
		} else if ok {
			c.recordUse(e.ID)
			return e, true, nil
		}
	}

	e, err := repo.GetCacheEntry(ctx, c.db, normalized, target)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.recordUse(e.ID)
	// The row may already be stale; an upsert that committed after the read
	// has written the hot tier itself.
	c.fill(ctx, e)
	return e, true, nil
}

// RecordUse counts one more hit on an entry, e.g. for callers that joined an
// in-flight computation instead of reading the cache.
func (c *Cache) RecordUse(id int64) { c.recordUse(id) }

// Upsert stores a rendering. The stored rendering is replaced only when the
// incoming source ranks at least as high as the existing one
// (admin_added > user_submission > auto). Machine translations also count as
// one use. Confidence is forced to 1.0 for reviewed sources and capped below
// it for machine translations.
func (c *Cache) Upsert(ctx context.Context, in UpsertInput) (*Entry, error) {
	if !in.Source.Valid() {
		return nil, errors.New("translation: unknown cache source " + string(in.Source))
	}
	conf := in.Confidence
	if in.Source == domain.SourceAuto {
		conf = clamp(conf, 0, autoConfidenceCeiling)
	} else {
		conf = 1.0
	}
	src := in.SourceLanguage
	if src == "" {
		src = "AUTO"
	}
	row := domain.TranslationCacheEntry{
		NormalizedText: in.NormalizedText,
		TargetLanguage: in.TargetLanguage,
		TranslatedText: in.TranslatedText,
		SourceLanguage: src,
		Confidence:     conf,
		Source:         in.Source,
		SubmissionID:   in.SubmissionID,
	}
	e, _, err := repo.UpsertCacheEntry(ctx, c.db, row, in.Source == domain.SourceAuto, c.now())
	if err != nil {
		return nil, err
	}
	c.warm(ctx, e)
	return e, nil
}

// Evict removes an entry. repo.ErrNotFound when it does not exist.
func (c *Cache) Evict(ctx context.Context, id int64) error {
	gone, err := repo.EvictCacheEntry(ctx, c.db, id)
	if err != nil {
		return err
	}
	if c.hot != nil {
		if err := c.hot.Delete(ctx, gone.NormalizedText, gone.TargetLanguage); err != nil {
			log.Debug().Err(err).Int64("cache_id", id).Msg("hot tier delete failed")
		}
	}
	return nil
}

// Flush blocks until every hit recorded before the call has been written.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil
	}
	ack := make(chan struct{})
	select {
	case c.flushReq <- ack:
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	}
	c.mu.RUnlock()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending accounting and stops the worker.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.uses)
		c.mu.Unlock()
		<-c.done
	})
}

func (c *Cache) recordUse(id int64) {
	if id == 0 {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.uses <- id:
	default:
		log.Debug().Int64("cache_id", id).Msg("cache accounting queue full; dropping hit")
	}
}

func (c *Cache) fill(ctx context.Context, e *Entry) {
	if c.hot == nil {
		return
	}
	if err := c.hot.Add(ctx, e); err != nil {
		log.Debug().Err(err).Int64("cache_id", e.ID).Msg("hot tier fill failed")
	}
}

func (c *Cache) warm(ctx context.Context, e *Entry) {
	if c.hot == nil {
		return
	}
	if err := c.hot.Set(ctx, e); err != nil {
		log.Debug().Err(err).Int64("cache_id", e.ID).Msg("hot tier write failed")
	}
}

// account batches hits per entry and writes them out whenever the queue runs
// dry, on flush, and on close.
func (c *Cache) account() {
	defer close(c.done)
	pending := map[int64]int64{}
	write := func() {
		if len(pending) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		now := c.now()
		for id, n := range pending {
			if err := repo.TouchCacheEntry(ctx, c.db, id, n, now); err != nil {
				logger().Warn().Err(err).Int64("cache_id", id).Msg("cache accounting failed")
			}
		}
		clear(pending)
	}
	// drain pulls whatever is already queued without blocking.
	drain := func() bool {
		for {
			select {
			case id, ok := <-c.uses:
				if !ok {
					return false
				}
				pending[id]++
			default:
				return true
			}
		}
	}

	for {
		select {
		case id, ok := <-c.uses:
			if !ok {
				write()
				return
			}
			pending[id]++
			open := drain()
			write()
			if !open {
				return
			}
		case ack := <-c.flushReq:
			open := drain()
			write()
			close(ack)
			if !open {
				return
			}
		}
	}
}

func logger() *zerolog.Logger {
	l := log.With().Str("component", "translation_cache").Logger()
	return &l
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
