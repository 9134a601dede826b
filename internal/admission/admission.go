// Package admission decides whether a user may send a message right now.
//
// A send is checked, in order, against the content gate (non-empty after
// trimming, at most MaxMessageBytes), the user's daily message cap for the
// current UTC day, and the sending connection's token bucket. An admitted
// send reserves one unit of the daily cap; the caller gives it back with
// Release when the message ends up not being stored.
package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/repo"
)

// Decision is the verdict for one send. A denied decision carries the code,
// a human-readable reason and, when waiting helps, a retry hint.
type Decision struct {
	Allowed    bool
	Code       domain.Code
	Reason     string
	RetryAfter time.Duration
	// Day is the UTC day the reservation was taken from; pass it to Release.
	Day string
}

// Err converts a denial into a coded error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.Error{Code: d.Code, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

func deny(code domain.Code, retry time.Duration, format string, args ...any) Decision {
	return Decision{Code: code, Reason: fmt.Sprintf(format, args...), RetryAfter: retry}
}

// Option customizes an Admitter.
type Option func(*Admitter)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(a *Admitter) { a.now = now } }

// Admitter enforces the send limits. It is safe for concurrent use.
type Admitter struct {
	db      *gorm.DB
	cfg     config.AdmissionConfig
	buckets *bucketPool
	now     func() time.Time
}

// New builds an Admitter. Zero limits take the defaults
// (4000 bytes, 100 per day, burst 5 refilled at 1/s).
func New(db *gorm.DB, cfg config.AdmissionConfig, opts ...Option) *Admitter {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 4000
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.RefillRPS <= 0 {
		cfg.RefillRPS = 1
	}
	a := &Admitter{
		db:      db,
		cfg:     cfg,
		buckets: newBucketPool(cfg.RefillRPS, cfg.Burst),
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// CheckGate applies only the content rule.
func (a *Admitter) CheckGate(text string) Decision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return deny(domain.CodeMessageTooLarge, 0, "message is empty")
	}
	if len(text) > a.cfg.MaxMessageBytes {
		return deny(domain.CodeMessageTooLarge, 0, "message is %d bytes, limit is %d", len(text), a.cfg.MaxMessageBytes)
	}
	return Decision{Allowed: true}
}

// CheckAndReserve runs every admission rule for userID sending text over the
// connection identified by connKey. On success one unit of the user's daily
// cap is reserved. A store error is returned as err, never as a denial.
func (a *Admitter) CheckAndReserve(ctx context.Context, userID int64, connKey, text string) (Decision, error) {
	if d := a.CheckGate(text); !d.Allowed {
		return d, nil
	}

	now := a.now().UTC()
	day := repo.DayKey(now)

	used, err := repo.DailyCount(ctx, a.db, userID, day)
	if err != nil {
		return Decision{}, fmt.Errorf("read daily usage: %w", err)
	}
	if used >= a.cfg.DailyCap {
		return a.quotaExceeded(now), nil
	}

	if ok, wait := a.buckets.take(connKey, now); !ok {
		return deny(domain.CodeRateLimited, wait, "sending too fast"), nil
	}

	ok, err := repo.ReserveDaily(ctx, a.db, userID, day, a.cfg.DailyCap, now)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve daily usage: %w", err)
	}
	if !ok {
		// Lost a race against another connection of the same user.
		return a.quotaExceeded(now), nil
	}
	return Decision{Allowed: true, Day: day}, nil
}

// Release returns a unit reserved by CheckAndReserve on day.
func (a *Admitter) Release(ctx context.Context, userID int64, day string) error {
	if day == "" {
		return nil
	}
	return repo.ReleaseDaily(ctx, a.db, userID, day, a.now())
}

// Remaining reports how many sends userID has left today.
func (a *Admitter) Remaining(ctx context.Context, userID int64) (int, error) {
	used, err := repo.DailyCount(ctx, a.db, userID, repo.DayKey(a.now()))
	if err != nil {
		return 0, err
	}
	if left := a.cfg.DailyCap - used; left > 0 {
		return left, nil
	}
	return 0, nil
}

// DailyCap is the configured per-day limit.
func (a *Admitter) DailyCap() int { return a.cfg.DailyCap }

// Forget drops the token bucket of a closed connection.
func (a *Admitter) Forget(connKey string) { a.buckets.forget(connKey) }

func (a *Admitter) quotaExceeded(now time.Time) Decision {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return deny(domain.CodeDailyQuotaExceeded, midnight.Sub(now), "daily limit of %d messages reached", a.cfg.DailyCap)
}
