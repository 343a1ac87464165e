package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/medforms/internal/config"
	"github.com/ehr/medforms/internal/domain/cds"
	"github.com/ehr/medforms/internal/domain/validation"
	"github.com/ehr/medforms/internal/platform/auth"
	"github.com/ehr/medforms/internal/platform/backend"
	"github.com/ehr/medforms/internal/platform/db"
	"github.com/ehr/medforms/internal/platform/middleware"
	"github.com/ehr/medforms/internal/platform/telemetry"
	"github.com/ehr/medforms/internal/platform/websocket"
)

const version = "0.1.0"

// sessionSweepInterval is how often idle validation sessions are expired.
const sessionSweepInterval = time.Minute

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth is active: every request runs as admin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tables, err := loadTables(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load rules file")
	}

	// Database is optional: without it the compiled-in and file tables are used.
	var pool *pgxpool.Pool
	var repo cds.KnowledgeRepository
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		repo = cds.NewKnowledgeRepoPG(pool)
		logger.Info().Msg("connected to database")
	}

	cdsSvc := cds.NewService(tables, repo, cds.CoherenceOptions{FlagUnknownCodes: cfg.FlagUnknownCodes}, logger)
	if err := cdsSvc.Reload(ctx); err != nil {
		logger.Error().Err(err).Msg("knowledge base reload failed, using built-in tables")
	}

	var submitter validation.Submitter
	if cfg.BackendURL != "" {
		submitter = backend.New(cfg.BackendURL,
			backend.WithTimeout(cfg.BackendTimeout),
			backend.WithLogger(logger),
		)
	}

	registry := validation.NewRegistry(cfg.SessionTTL, logger)
	go registry.Run(ctx, sessionSweepInterval)

	metrics := newMetrics()
	hub := websocket.NewHub(logger)
	svc := validation.NewService(cdsSvc, registry, submitter, validation.Config{
		Realtime:       cfg.RealtimeValidation,
		Debounce:       cfg.Debounce(),
		ScoreThreshold: cfg.ProtocolScoreThreshold,
		Publisher:      hub,
		Metrics:        metrics,
	}, logger)

	var pinger db.Pinger
	if pool != nil {
		pinger = pool
	}
	e := newServer(cfg, logger, svc, websocket.NewStreamer(hub, cfg.CORSOrigins, logger), pinger, metrics)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newMetrics() *telemetry.Provider {
	p := telemetry.NewProvider()
	p.Describe(validation.MetricValidations, "Complete validation passes by form kind and outcome.")
	p.Describe(validation.MetricValidationSeconds, "Duration of complete validation passes.")
	p.Describe(validation.MetricAlerts, "Clinical alerts raised by category and severity.")
	p.Describe(validation.MetricSubmissions, "Form submissions by form kind and outcome.")
	p.Describe(validation.MetricOpenSessions, "Open validation sessions.")
	return p
}

// newServer assembles the HTTP surface. stream, pinger and metrics may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *validation.Service, stream *websocket.Streamer, pinger db.Pinger, metrics *telemetry.Provider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	if metrics != nil {
		e.Use(metrics.MetricsMiddleware())
	}
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}
	if metrics != nil {
		e.GET("/metrics", metrics.PrometheusHandler())
	}

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	validation.NewHandler(svc, stream).RegisterRoutes(apiV1)
	cds.NewHandler(svc.CDS()).RegisterRoutes(apiV1)

	return e
}
