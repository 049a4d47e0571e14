// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joemooney/req/internal/api"
	"github.com/joemooney/req/internal/backend"
	"github.com/joemooney/req/internal/mcpserver"
	"github.com/joemooney/req/internal/reqservice"
	"github.com/joemooney/req/internal/storage"
	"github.com/joemooney/req/internal/watcher"
)

// NewLogger builds the structured JSON logger used across the application.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// OpenBackend opens the store named by cfg with the configured lock timeout.
func OpenBackend(cfg *Config, logger *slog.Logger) (backend.Backend, error) {
	b, err := backend.Open(cfg.Store.Path,
		backend.WithLogger(logger),
		backend.WithLockTimeout(cfg.Store.LockTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return b, nil
}

func (a *application) init(stdout io.Writer) (*Config, *slog.Logger, error) {
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if a.logger == nil {
		a.logger = NewLogger(stdout, a.config.App.LogLevel)
		slog.SetDefault(a.logger)
	}
	if a.version == "" {
		a.version = "dev"
	}
	return a.config, a.logger, nil
}

// loadService opens the backend and loads the first snapshot.
func loadService(ctx context.Context, cfg *Config, logger *slog.Logger) (*reqservice.Service, error) {
	b, err := OpenBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := reqservice.New(b, logger)
	if err := svc.Reload(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("initial load: %w", err)
	}
	if rep := b.LastUpgrade(); rep.Changed() {
		logger.Info("store upgraded",
			slog.Int("from", rep.From),
			slog.Int("to", rep.To),
			slog.String("path", b.Path()))
	}
	return svc, nil
}

// watch reloads svc on external edits until ctx is done.
func watch(ctx context.Context, cfg *Config, svc *reqservice.Service, logger *slog.Logger) error {
	files, name, err := storage.ForFile(svc.Backend().Path())
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return watcher.Watch(ctx, files, name, cfg.Watch.Debounce, logger, svc.Reload)
}

// Run starts the read-only HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	cfg, logger, err := app.init(os.Stdout)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := loadService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Backend().Close()

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !svc.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"loading"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled {
		g.Go(func() error {
			return watch(gCtx, cfg, svc, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the read-only MCP tools on stdin/stdout. Logs go to stderr
// because stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	cfg, logger, err := app.init(os.Stderr)
	if err != nil {
		return err
	}

	svc, err := loadService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Backend().Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Watch.Enabled {
		go func() {
			if err := watch(ctx, cfg, svc, logger); err != nil {
				logger.Warn("watcher failed", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("Starting MCP server", slog.String("store_path", cfg.Store.Path))
	return mcpserver.New(svc, app.version).ServeStdio()
}
