// Command queryforge runs one MPP worker node: it accepts dispatched
// plan fragments over HTTP, executes them, and ships results to
// downstream consumers through the exchange bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	qfhttp "github.com/Strob0t/QueryForge/internal/adapter/http"
	"github.com/Strob0t/QueryForge/internal/adapter/memexchange"
	qfnats "github.com/Strob0t/QueryForge/internal/adapter/nats"
	"github.com/Strob0t/QueryForge/internal/adapter/natskv"
	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/adapter/postgres"
	"github.com/Strob0t/QueryForge/internal/adapter/ristretto"
	"github.com/Strob0t/QueryForge/internal/adapter/tiered"
	"github.com/Strob0t/QueryForge/internal/adapter/valuesexec"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/logger"
	"github.com/Strob0t/QueryForge/internal/middleware"
	"github.com/Strob0t/QueryForge/internal/mpp"
	"github.com/Strob0t/QueryForge/internal/port/cache"
	"github.com/Strob0t/QueryForge/internal/port/exchange"
	"github.com/Strob0t/QueryForge/internal/port/taskstore"
	"github.com/Strob0t/QueryForge/internal/resilience"
)

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

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"nats_url", cfg.NATS.URL,
		"monitor_interval", cfg.Monitor.CheckInterval,
	)

	ctx := context.Background()

	// --- Observability ---

	shutdownMetrics, err := qfotel.SetupMetrics(ctx, cfg.Metrics.OTLPEndpoint, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(sctx)
	}()

	metrics, err := qfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// Exchange bus: NATS across nodes, in-process for single-node mode.
	var bus exchange.Bus
	var natsBus *qfnats.Bus
	if cfg.NATS.URL != "" {
		natsBus, err = qfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		bus = natsBus
	} else {
		slog.Info("no NATS URL configured, using in-process exchange")
		bus = memexchange.New(log)
	}
	defer func() { _ = bus.Close() }()

	// Task accounting: optional, enabled by a Postgres DSN. The breaker
	// keeps a down database from slowing the execution path.
	var store taskstore.Store = taskstore.Nop{}
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		store = taskstore.WithBreaker(postgres.NewStore(pool), resilience.NewBreaker(5, 30*time.Second))
		slog.Info("postgres connected, task accounting enabled")
	}

	// Plan fragment cache: in-process, layered over a cluster-shared
	// NATS KV bucket when running against NATS.
	l1, err := ristretto.New(cfg.Cache.PlanCacheMB << 20)
	if err != nil {
		return fmt.Errorf("plan cache: %w", err)
	}
	defer l1.Close()

	var plans cache.Cache = l1
	if natsBus != nil {
		kv, err := natsBus.KeyValue(ctx, "queryforge-plans", time.Hour)
		if err != nil {
			return fmt.Errorf("plan kv: %w", err)
		}
		plans = tiered.New(l1, natskv.New(kv), 10*time.Minute)
	}

	// --- Task execution core ---

	manager := mpp.NewManager(cfg.Monitor, metrics, log)
	defer manager.Close()

	dispatch := mpp.NewDispatchHandler(mpp.TaskDeps{
		Manager: manager,
		Bus:     bus,
		Builder: valuesexec.NewBuilder(log),
		Store:   store,
		Plans:   plans,
		Metrics: metrics,
		Monitor: cfg.Monitor,
		Log:     log,
	})

	// --- HTTP ---

	handlers := qfhttp.NewHandlers(dispatch, manager, log)

	r := chi.NewRouter()
	r.Use(qfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(qfhttp.Logger)
	r.Use(qfotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	qfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Dispatch blocks for the fragment's full run, so no write deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
