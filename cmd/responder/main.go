package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"

	"github.com/openrelief/responder/internal/adapter/backendapi"
	rshttp "github.com/openrelief/responder/internal/adapter/http"
	rsnats "github.com/openrelief/responder/internal/adapter/nats"
	oteladapter "github.com/openrelief/responder/internal/adapter/otel"
	"github.com/openrelief/responder/internal/adapter/postgres"
	"github.com/openrelief/responder/internal/adapter/ristretto"
	"github.com/openrelief/responder/internal/adapter/ws"
	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/logger"
	"github.com/openrelief/responder/internal/port/enrich"
	"github.com/openrelief/responder/internal/service"
)

const eventCacheSize = 64 << 20 // 64 MiB of last-known-good events

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"backend", cfg.Backend.BaseURL,
		"max_concurrent", cfg.Agent.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownTelemetry, err := oteladapter.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	// --- Infrastructure ---

	// PostgreSQL archive. An empty DSN runs the engine without persistence;
	// the archive capability shows up as degraded in the service status.
	deps := service.Deps{}
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		deps.Archive = postgres.NewStore(pool)
		slog.Info("postgres connected, migrations applied")
	} else {
		slog.Warn("postgres dsn not set, workflow archive disabled")
	}

	// NATS audit stream, also optional.
	if cfg.NATS.URL != "" {
		queue, err := rsnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
		deps.Audit = queue
		slog.Info("nats connected", "url", cfg.NATS.URL)
	} else {
		slog.Warn("nats url not set, audit stream disabled")
	}

	// Last-known-good event cache.
	events, err := ristretto.New(eventCacheSize, cfg.Backend.CacheTTL)
	if err != nil {
		return fmt.Errorf("event cache: %w", err)
	}
	defer events.Close()
	deps.Events = events

	// The backend API serves both the disaster data source and the four
	// enrichment lookups.
	backend := backendapi.New(cfg.Backend)
	deps.Source = backend
	deps.Builder = service.NewContextBuilder(enrich.Services{
		Geo:        backend,
		Routes:     backend,
		Population: backend,
		Resources:  backend,
	}, cfg.Enrich)

	// --- Services ---

	deps.Prioritizer, err = service.NewPrioritizer(cfg.Priority)
	if err != nil {
		return fmt.Errorf("prioritizer: %w", err)
	}

	channels, err := buildChannels(cfg.Dispatch)
	if err != nil {
		return fmt.Errorf("dispatch tools: %w", err)
	}
	deps.Dispatcher = service.NewDispatcher(channels, cfg.Dispatch, cfg.Breaker)

	deps.Monitor, err = service.NewMonitor(otel.Meter("responder"), cfg.Agent.HistoryPerID)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	hub := ws.NewHub()
	deps.Broadcast = hub

	agent := service.NewAgent(ctx, *cfg, deps, log)

	sweeper := service.NewSweeper(agent, deps.Archive, cfg.Agent, log)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	// --- HTTP ---

	handlers := &rshttp.Handlers{
		Agent:   agent,
		Monitor: deps.Monitor,
		Archive: deps.Archive,
	}

	r := chi.NewRouter()

	r.Use(rshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(oteladapter.HTTPMiddleware(cfg.Logging.Service))
	r.Use(rshttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", handlers.ServiceStatus)
	r.Get("/ws", hub.HandleWS)

	rshttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
