// Command unibabel serves the multilingual chat API and its websocket
// gateway.
//
// @title                      UniBabel API
// @version                    1.0
// @description                Multilingual chat: every participant reads every message in their own language.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/unibabel/internal/admission"
	"github.com/tbourn/unibabel/internal/config"
	"github.com/tbourn/unibabel/internal/dispatch"
	httpapi "github.com/tbourn/unibabel/internal/http"
	"github.com/tbourn/unibabel/internal/http/docs"
	"github.com/tbourn/unibabel/internal/maintenance"
	"github.com/tbourn/unibabel/internal/observability"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/sysutil"
	"github.com/tbourn/unibabel/internal/translation"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownGrace bounds how long in-flight requests and sessions get to
// finish once a stop signal arrives.
const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: version,
	})
	if cfg.Auth.TrustsHeaders() {
		log.Warn().Msg("AUTH_MODE=header: caller identity and role are taken from X-User-ID and X-User-Role as sent; run only behind a proxy that sets them")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("unibabel stopped with error")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DBURL)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Translation cache, with Redis in front when configured.
	var cacheOpts []translation.CacheOption
	if cfg.RedisURL != "" {
		hot, err := translation.NewRedisTier(ctx, cfg.RedisURL, cfg.RedisTTL)
		if err != nil {
			return err
		}
		defer hot.Close()
		cacheOpts = append(cacheOpts, translation.WithHotTier(hot))
		log.Info().Dur("ttl", cfg.RedisTTL).Msg("redis hot tier enabled")
	}
	cache := translation.NewCache(db, cacheOpts...)
	defer cache.Close()

	if cfg.Provider.URL == "" {
		log.Warn().Msg("PROVIDER_URL is empty: messages will be delivered untranslated")
	}
	provider := translation.NewHTTPProvider(cfg.Provider.URL, cfg.Provider.Key, cfg.Provider.Variants,
		&http.Client{Timeout: cfg.Provider.Timeout})
	coord := translation.NewCoordinator(cache, provider, translation.Options{
		Concurrency:    cfg.Provider.Concurrency,
		AttemptTimeout: cfg.Provider.Timeout,
		RetryBase:      cfg.Provider.RetryBase,
		RetryCap:       cfg.Provider.RetryCap,
		MaxAttempts:    cfg.Provider.MaxAttempts,
	})

	adm := admission.New(db, cfg.Admission)
	reg := realtime.NewRegistry()
	disp := dispatch.New(db, reg, adm, coord, dispatch.WithNonceTTL(cfg.NonceTTL))

	janitor, err := maintenance.New(db, cfg.Maintenance)
	if err != nil {
		return err
	}
	go janitor.Start(ctx)

	gin.SetMode(cfg.GinMode)
	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	r := gin.New()
	gw := httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:         db,
		Registry:   reg,
		Sender:     disp,
		Quota:      adm,
		Cache:      cache,
		Translator: coord,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("api", cfg.APIBasePath).
			Str("auth_mode", cfg.Auth.Mode).
			Int("daily_cap", cfg.Admission.DailyCap).
			Str("max_message", humanize.Bytes(uint64(cfg.Admission.MaxMessageBytes))).
			Msg("unibabel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	start := time.Now()
	// Hijacked websocket connections are not tracked by the server; the
	// gateway closes them.
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := gw.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("websocket shutdown")
	}
	if err := cache.Flush(sctx); err != nil {
		log.Warn().Err(err).Msg("flush translation usage counters")
	}
	log.Info().Dur("took", time.Since(start)).Int("sessions_left", reg.Len()).Msg("shutdown complete")
	return nil
}
