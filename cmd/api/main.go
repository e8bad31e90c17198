package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"duo-pass-api/internal/cache"
	"duo-pass-api/internal/config"
	"duo-pass-api/internal/database"
	"duo-pass-api/internal/events"
	"duo-pass-api/internal/features"
	"duo-pass-api/internal/handler"
	"duo-pass-api/internal/logger"
	"duo-pass-api/internal/middleware"
	"duo-pass-api/internal/scheduler"
	"duo-pass-api/internal/service"
	"duo-pass-api/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	flags := features.NewDefaultManager()
	if !cfg.Events.Enabled {
		flags.Disable(features.FeatureEventHooksEnabled)
	}
	if cfg.Refunds.SweepInterval <= 0 {
		flags.Disable(features.FeatureScheduledRefunds)
	}

	bus := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	subscribeAuditLog(bus)
	defer bus.Shutdown()

	replayCache := newReplayCache(cfg)

	svc := service.NewService(db, service.WithEvents(bus))

	var sweeps *scheduler.RefundScheduler
	if flags.IsEnabled(features.FeatureScheduledRefunds) {
		sweeps, err = scheduler.New(svc, flags, cfg.SweepInterval(), cfg.Refunds.RunOnStart)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create refund scheduler")
		}
		sweeps.Start()
	} else if cfg.Refunds.RunOnStart {
		if _, err := svc.ProcessAllRefunds(context.Background()); err != nil {
			log.Error().Err(err).Msg("Startup refund sweep finished with errors")
		}
	}

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize:    cfg.Security.MaxRequestBodySize,
		Cache:          replayCache,
		Features:       flags,
		IdempotencyTTL: cfg.IdempotencyTTL(),
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(cfg.Tracing.ServiceName))

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.IdempotencyKeyHeader},
		ExposedHeaders:   []string{handler.ReplayedHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("database", cfg.Database.Path).
			Int("rate_limit", cfg.RateLimit.Rate).
			Int("rate_window_seconds", cfg.RateLimit.Window).
			Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	<-sigint

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down server")
	}
	if sweeps != nil {
		if err := sweeps.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error stopping refund scheduler")
		}
	}
	if closer, ok := replayCache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing cache")
		}
	}
	if err := tracing.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error flushing traces")
	}
}

// newReplayCache connects to Redis when an address is configured and falls
// back to process memory otherwise.
func newReplayCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.RedisAddr == "" {
		log.Info().Msg("Purchase replay cache: in-memory")
		return cache.NewInMemoryCache()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable, using in-memory replay cache")
		return cache.NewInMemoryCache()
	}
	log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Purchase replay cache: redis")
	return rc
}

// subscribeAuditLog writes every domain event to the log.
func subscribeAuditLog(bus *events.Manager) {
	audit := func(ctx context.Context, e events.Event) error {
		entry := log.Info().Str("event", string(e.Type)).Time("at", e.Timestamp)
		switch data := e.Data.(type) {
		case events.PassPurchasedData:
			entry = entry.
				Str("user_id", data.Item.Pass.UserID).
				Str("month", data.Item.Month).
				Str("pass_id", data.Item.Pass.ID).
				Int64("amount", data.Item.Transaction.Amount)
		case events.PassRefundedData:
			entry = entry.
				Str("user_id", data.Refund.UserID).
				Str("month", data.Refund.Month).
				Str("pass_id", data.Refund.PassID).
				Int64("amount", data.Refund.Amount)
		case events.MatchRecordedData:
			entry = entry.
				Str("user_id", data.Status.UserID).
				Str("month", data.Status.Month).
				Bool("matched", data.Status.Matched)
		}
		entry.Msg("audit")
		return nil
	}

	bus.Subscribe(events.EventPassPurchased, audit)
	bus.Subscribe(events.EventPassUpgraded, audit)
	bus.Subscribe(events.EventPassRefunded, audit)
	bus.Subscribe(events.EventMatchRecorded, audit)
}
