package translation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/lang"
	"github.com/tbourn/unibabel/internal/observability"
)

// ErrUnsupportedLanguage is returned for a target outside the supported set.
var ErrUnsupportedLanguage = errors.New("unsupported target language")

// Result is the outcome of Translate. On provider failure Text holds the
// original input, Confidence is 0 and Err is a ProviderUnavailable error;
// callers still deliver Text.
type Result struct {
	Text           string
	FromCache      bool
	Confidence     float64
	SourceLanguage string
	TargetLanguage string
	Err            error
}

// Options bound provider usage. Zero values take the defaults.
type Options struct {
	Concurrency    int           // outbound calls in flight, default 16
	AttemptTimeout time.Duration // per provider attempt, default 5s
	RetryBase      time.Duration // default 200ms
	RetryCap       time.Duration // default 4s
	MaxAttempts    int           // first call included, default 3
	// FlightTimeout bounds one whole computation including retries. By
	// default it is large enough for every attempt and every wait.
	FlightTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 16
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 4 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.FlightTimeout <= 0 {
		o.FlightTimeout = time.Duration(o.MaxAttempts)*(o.AttemptTimeout+o.RetryCap) + time.Second
	}
	return o
}

// Coordinator answers translation requests from the cache and makes sure a
// missing (text, target) pair is sent to the provider by one caller only.
// Concurrent callers for the same pair share that single outcome.
type Coordinator struct {
	cache    *Cache
	provider Provider
	opts     Options
	sem      *semaphore.Weighted
	flights  singleflight.Group

	newBackOff func() backoff.BackOff
}

// NewCoordinator wires a coordinator over cache and provider.
func NewCoordinator(cache *Cache, provider Provider, opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		cache:    cache,
		provider: provider,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}
	c.newBackOff = func() backoff.BackOff { return newFullJitter(opts.RetryBase, opts.RetryCap) }
	return c
}

// CacheKey returns the target language a rendering into target is cached
// under: the code itself, or its base language when the provider cannot
// render the regional variant. Writers of reviewed renderings must use it so
// Translate finds them.
func (c *Coordinator) CacheKey(target string) string {
	return lang.Collapse(target, c.provider.Supports)
}

// flightResult is what one provider computation hands to everyone waiting on
// it.
type flightResult struct {
	entry *Entry
}

// Translate renders text into target. source may be empty or AUTO, in which
// case it is detected.
//
// When source and target share a base language the input is returned
// verbatim without touching the cache. Regional targets the provider cannot
// render collapse to their base language.
func (c *Coordinator) Translate(ctx context.Context, text, target, source string) Result {
	ctx, span := observability.Tracer().Start(ctx, "translation.translate")
	defer span.End()

	tgt := lang.Normalize(target)
	if tgt == "" || tgt == lang.Auto {
		span.SetStatus(codes.Error, "unsupported target")
		return Result{Text: text, TargetLanguage: target, Err: fmt.Errorf("%w: %q", ErrUnsupportedLanguage, target)}
	}
	normalized := Normalize(text)

	src := lang.Normalize(source)
	if src == "" || src == lang.Auto {
		src = lang.Detect(normalized, "")
	}
	span.SetAttributes(
		attribute.String("translation.source", src),
		attribute.String("translation.target", tgt),
	)

	if normalized == "" || (src != lang.Auto && lang.Base(src) == lang.Base(tgt)) {
		observability.TranslationsTotal.WithLabelValues(observability.TranslateIdentity).Inc()
		return Result{Text: text, FromCache: true, Confidence: 1.0, SourceLanguage: src, TargetLanguage: tgt}
	}

	key := c.CacheKey(tgt)

	if e, ok, err := c.cache.Lookup(ctx, normalized, key); err != nil {
		log.Warn().Err(err).Str("target", key).Msg("translation cache lookup failed")
	} else if ok {
		observability.TranslationsTotal.WithLabelValues(observability.TranslateHit).Inc()
		return fromEntry(e, true)
	}

	leader := false
	ch := c.flights.DoChan(normalized+"\x00"+key, func() (any, error) {
		leader = true
		return c.fill(ctx, normalized, key, src)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The computation keeps going for the others; this caller gives up.
		observability.TranslationsTotal.WithLabelValues(observability.TranslateDegraded).Inc()
		return degraded(text, src, tgt, ctx.Err())
	}

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "provider unavailable")
		observability.TranslationsTotal.WithLabelValues(observability.TranslateDegraded).Inc()
		return degraded(text, src, tgt, res.Err)
	}
	fr := res.Val.(flightResult)
	if !leader {
		c.cache.RecordUse(fr.entry.ID)
		observability.TranslationsTotal.WithLabelValues(observability.TranslateShared).Inc()
	} else {
		observability.TranslationsTotal.WithLabelValues(observability.TranslateProvider).Inc()
	}
	return fromEntry(fr.entry, false)
}

// fill runs once per key at a time. It re-checks the cache first: a flight
// that finished just before this one started has already stored the answer.
func (c *Coordinator) fill(parent context.Context, normalized, key, src string) (flightResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.FlightTimeout)
	defer cancel()

	if e, ok, err := c.cache.Lookup(ctx, normalized, key); err == nil && ok {
		return flightResult{entry: e}, nil
	}

	req := ProviderRequest{Text: normalized, SourceLanguage: src, TargetLanguage: key}
	attempt := 0
	resp, err := backoff.Retry(ctx, func() (ProviderResponse, error) {
		attempt++
		r, err := c.call(ctx, req)
		switch {
		case err == nil:
			observability.ProviderAttempts.WithLabelValues("ok").Inc()
			return r, nil
		case retryable(err):
			observability.ProviderAttempts.WithLabelValues("retryable").Inc()
			return r, err
		default:
			observability.ProviderAttempts.WithLabelValues("terminal").Inc()
			return r, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(c.opts.FlightTimeout),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("target", key).Msg("provider attempt failed; retrying")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Int("attempts", attempt).Str("target", key).Msg("translation provider unavailable")
		return flightResult{}, &domain.Error{Code: domain.CodeProviderUnavailable, Reason: err.Error()}
	}

	detected := resp.DetectedLanguage
	if detected == "" {
		detected = src
	}
	e, err := c.cache.Upsert(ctx, UpsertInput{
		NormalizedText: normalized,
		TargetLanguage: key,
		TranslatedText: resp.Text,
		SourceLanguage: detected,
		Confidence:     resp.Confidence,
		Source:         domain.SourceAuto,
	})
	if err != nil {
		// The rendering is still good; serve it without caching.
		log.Error().Err(err).Str("target", key).Msg("translation cache upsert failed")
		e = &Entry{
			NormalizedText: normalized,
			TargetLanguage: key,
			TranslatedText: resp.Text,
			SourceLanguage: detected,
			Confidence:     clamp(resp.Confidence, 0, autoConfidenceCeiling),
			Source:         domain.SourceAuto,
		}
	}
	return flightResult{entry: e}, nil
}

// call performs one bounded provider attempt.
func (c *Coordinator) call(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return ProviderResponse{}, err
	}
	defer c.sem.Release(1)

	actx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()
	resp, err := c.provider.Translate(actx, req)
	if err != nil {
		return resp, err
	}
	if resp.Text == "" {
		return resp, &ProviderError{Status: 502, Body: "empty translation"}
	}
	return resp, nil
}

func fromEntry(e *Entry, cached bool) Result {
	return Result{
		Text:           e.TranslatedText,
		FromCache:      cached,
		Confidence:     e.Confidence,
		SourceLanguage: e.SourceLanguage,
		TargetLanguage: e.TargetLanguage,
	}
}

func degraded(text, src, tgt string, cause error) Result {
	err := cause
	if domain.CodeOf(cause) != domain.CodeProviderUnavailable {
		err = &domain.Error{Code: domain.CodeProviderUnavailable, Reason: cause.Error()}
	}
	return Result{Text: text, SourceLanguage: src, TargetLanguage: tgt, Err: err}
}
