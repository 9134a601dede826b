// Package maintenance runs the periodic cleanup the core relies on: expired
// send nonces and old daily usage rows are deleted on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/repo"
)

// retryDelay is how long the scheduler waits after failing to compute the
// next tick.
const retryDelay = 30 * time.Second

// Report counts the rows one run removed.
type Report struct {
	Nonces    int64
	UsageRows int64
}

// Option customizes a Janitor.
type Option func(*Janitor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(j *Janitor) { j.now = now } }

// Janitor deletes expired nonce records and usage rows older than the
// retention window.
type Janitor struct {
	db        *gorm.DB
	cron      string
	retention time.Duration
	now       func() time.Time
}

// New builds a Janitor. An invalid cron expression is an error.
func New(db *gorm.DB, cfg config.MaintenanceConfig, opts ...Option) (*Janitor, error) {
	if !gronx.IsValid(cfg.Cron) {
		return nil, fmt.Errorf("maintenance: invalid cron expression %q", cfg.Cron)
	}
	j := &Janitor{db: db, cron: cfg.Cron, retention: cfg.UsageRetention, now: time.Now}
	if j.retention < 24*time.Hour {
		j.retention = 24 * time.Hour
	}
	for _, o := range opts {
		o(j)
	}
	return j, nil
}

// RunOnce performs one cleanup pass.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	now := j.now().UTC()
	var rep Report

	n, err := repo.PurgeExpiredNonces(ctx, j.db, now)
	if err != nil {
		return rep, fmt.Errorf("maintenance: purge nonces: %w", err)
	}
	rep.Nonces = n

	// Usage is kept per UTC day; the day containing the cutoff survives.
	cutoff := repo.DayKey(now.Add(-j.retention))
	n, err = repo.PurgeUsageBefore(ctx, j.db, cutoff)
	if err != nil {
		return rep, fmt.Errorf("maintenance: purge usage: %w", err)
	}
	rep.UsageRows = n
	return rep, nil
}

// Start runs the janitor on its schedule until ctx ends. Runs never overlap.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Str("cron", j.cron).Dur("usage_retention", j.retention).Msg("maintenance scheduler started")
	for {
		next, err := gronx.NextTickAfter(j.cron, j.now().UTC(), false)
		if err != nil {
			log.Error().Err(err).Str("cron", j.cron).Msg("maintenance: next tick failed")
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}
		log.Debug().Time("next_run", next).Msgf("maintenance runs %s", humanize.Time(next))

		if !sleep(ctx, next.Sub(j.now())) {
			log.Info().Msg("maintenance scheduler stopped")
			return
		}

		start := time.Now()
		rep, err := j.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("maintenance run failed")
			continue
		}
		log.Info().
			Int64("nonces", rep.Nonces).
			Int64("usage_rows", rep.UsageRows).
			Dur("took", time.Since(start)).
			Msg("maintenance run complete")
	}
}

// sleep waits d or until ctx ends, reporting false in the latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
