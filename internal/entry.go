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
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tiwaz/internal/api"
	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/index"
	"github.com/starford/tiwaz/internal/mcpserver"
	"github.com/starford/tiwaz/internal/metrics"
	"github.com/starford/tiwaz/internal/needservice"
	"github.com/starford/tiwaz/internal/sse"
	"github.com/starford/tiwaz/internal/storage"
	"github.com/starford/tiwaz/internal/watcher"
)

// NewLogger returns the structured logger described by cfg, writing to w.
func NewLogger(cfg *ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Inputs returns the build inputs reading documents from store.
func (c *Config) Inputs(store storage.Provider) build.Inputs {
	return build.Inputs{
		Loader: build.Loader{Provider: store},
		Source: build.Source{
			Include: c.Source.Include,
			Exclude: c.Source.Exclude,
			Workers: c.Source.Workers,
		},
	}
}

func (a *application) prepare() (*Config, *slog.Logger, *storage.FS, error) {
	if a.config == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	cfg := a.config
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := a.logger
	if logger == nil {
		logger = NewLogger(&cfg.App, os.Stdout)
	}
	slog.SetDefault(logger)

	store, err := storage.NewFS(cfg.Source.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init storage: %w", err)
	}
	return cfg, logger, store, nil
}

// Build runs one build of the configured source tree and writes needs.json
// when an output path is set. The session is returned with the error so the
// caller can report warnings.
func Build(ctx context.Context, opts ...Option) (*build.Session, error) {
	app := newApplication(opts)
	cfg, logger, store, err := app.prepare()
	if err != nil {
		return nil, err
	}
	sess, err := build.Run(ctx, cfg.Needs, cfg.Inputs(store), build.WithLogger(logger))
	if err != nil && !errors.Is(err, build.ErrWarnings) {
		return sess, err
	}
	if cfg.Output.NeedsJSON != "" {
		if werr := writeNeedsJSON(cfg.Output, sess.Document()); werr != nil {
			return sess, werr
		}
		logger.Info("build: needs.json written", slog.String("path", cfg.Output.NeedsJSON))
	}
	return sess, err
}

func writeNeedsJSON(out OutputConfig, doc *export.Document) error {
	if out.KeepVersions {
		if f, err := os.Open(out.NeedsJSON); err == nil {
			prev, _, lerr := export.Load(f)
			f.Close()
			if lerr != nil {
				return fmt.Errorf("read previous needs.json: %w", lerr)
			}
			doc.KeepVersions(prev)
		}
	}
	if err := os.MkdirAll(filepath.Dir(out.NeedsJSON), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(out.NeedsJSON)
	if err != nil {
		return fmt.Errorf("create needs.json: %w", err)
	}
	if err := export.Write(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Query builds the source tree once and returns a service for read-only
// queries. The index is not used.
func Query(ctx context.Context, opts ...Option) (*needservice.Service, error) {
	app := newApplication(opts)
	cfg, logger, store, err := app.prepare()
	if err != nil {
		return nil, err
	}
	svc := needservice.New(cfg.Needs, cfg.Inputs(store), needservice.WithLogger(logger))
	if err := svc.Rebuild(ctx); err != nil && !errors.Is(err, build.ErrWarnings) {
		return nil, err
	}
	return svc, nil
}

// ServeMCP builds the source tree and serves the MCP tools over stdio.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	cfg, logger, store, err := app.prepare()
	if err != nil {
		return err
	}
	svcOpts := []needservice.Option{needservice.WithLogger(logger)}
	if cfg.SQLite.Path != "" {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init index: %w", err)
		}
		defer db.Close()
		svcOpts = append(svcOpts, needservice.WithIndex(db))
	}
	svc := needservice.New(cfg.Needs, cfg.Inputs(store), svcOpts...)
	if err := svc.Rebuild(ctx); err != nil && !errors.Is(err, build.ErrWarnings) {
		logger.Warn("mcp: initial build failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(svc, store).ServeStdio()
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	cfg, logger, store, err := app.prepare()
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("source_path", cfg.Source.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	m := metrics.New()
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svcOpts := []needservice.Option{
		needservice.WithLogger(logger),
		needservice.WithMetrics(m),
		needservice.WithPublisher(broker),
	}
	if cfg.SQLite.Path != "" {
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("init index: %w", err)
		}
		defer db.Close()
		svcOpts = append(svcOpts, needservice.WithIndex(db))
	}
	svc := needservice.New(cfg.Needs, cfg.Inputs(store), svcOpts...)

	// A failed initial build leaves the API answering 503 until a rebuild.
	if err := svc.Rebuild(ctx); err != nil && !errors.Is(err, build.ErrWarnings) {
		logger.Warn("initial build failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(svc, api.RouterOptions{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		Metrics:     m.Handler(),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := svc.Info(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"no build"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Source.Watch {
		w := &watcher.Watcher{
			Root:    store.Root(),
			Include: cfg.Source.Include,
			Exclude: cfg.Source.Exclude,
			Logger:  logger,
		}
		g.Go(func() error {
			return w.Run(gCtx, func(paths []string) {
				logger.Debug("watch: changes", slog.Any("paths", paths))
				if _, err := svc.RebuildIfChanged(gCtx); err != nil {
					logger.Warn("watch: rebuild failed", slog.String("error", err.Error()))
				}
			})
		})
	}

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

		// Ends open event streams so Shutdown does not wait on them.
		broker.Close()

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
