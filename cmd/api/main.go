package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/everkeep/companion-platform/internal/api/router"
	"github.com/everkeep/companion-platform/internal/audit"
	appconfig "github.com/everkeep/companion-platform/internal/config"
	"github.com/everkeep/companion-platform/internal/http/handlers"
	"github.com/everkeep/companion-platform/internal/observability/metrics"
	"github.com/everkeep/companion-platform/internal/safety"
	"github.com/everkeep/companion-platform/internal/session"
	"github.com/everkeep/companion-platform/pkg/logging"
)

func main() {
	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting companion-platform safety API",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	// Session store: Redis for multi-instance deployments, in-memory
	// for single-instance demos and local development.
	var store session.Store
	if cfg.UseMemoryStore {
		logger.Warn("using in-memory session store; state is per-instance only")
		store = session.NewMemoryStore()
	} else {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		store = session.NewRedisStore(client, session.WithTTL(cfg.SessionTTL))
	}

	// Audit sink: Postgres when configured. Running without one is
	// allowed; events are dropped and the gap is visible in logs.
	var sink audit.Sink = audit.NopSink{}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Error("failed to ping audit database", "error", err)
			os.Exit(1)
		}
		sink = audit.NewService(db)
	} else {
		logger.Warn("no DATABASE_URL configured; safety audit events will be dropped")
	}

	registry := prometheus.NewRegistry()
	safetyMetrics := metrics.NewSafetyMetrics(registry)

	classifier := safety.NewClassifier(logger)
	tracker := session.NewTracker(store, sink, logger, safetyMetrics)
	aiHandler := handlers.NewAISessionHandler(
		tracker,
		classifier,
		session.ThresholdsFromConfig(cfg),
		cfg.DefaultResourceRegion,
		logger,
		safetyMetrics,
	)

	r := router.New(&router.Config{
		Logger:             logger,
		AISessions:         aiHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
