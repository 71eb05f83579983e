// Package internal provides the main application initialization and runtime logic.
package internal

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
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/keloia/internal/api"
	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/layout"
	"github.com/starford/keloia/internal/mcpserver"
	"github.com/starford/keloia/internal/metrics"
	"github.com/starford/keloia/internal/progress"
	"github.com/starford/keloia/internal/sse"
	"github.com/starford/keloia/internal/watch"
)

// runtime is everything built once per process on top of the configuration.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	backend *backend
	store   filestore.Client
	lane    *filestore.Serializer
	layout  layout.Layout
	metrics *metrics.Metrics
	broker  *sse.Broker
	mcp     *mcpserver.Server
	svc     mcpserver.Services
}

func newRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*runtime, error) {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	m := metrics.New()
	lane := filestore.NewSerializer()
	store := filestore.Serialized(m.Instrument(cfg.Store.Backend, b.client), lane)
	l := layout.New(cfg.App.DataRoot)
	broker := sse.NewBroker(cfg.App.SSEThrottle)

	svc := mcpserver.Services{
		Docs:     docservice.NewService(store, l, broker, logger),
		Kanban:   kanban.NewService(store, l, broker, logger),
		Progress: progress.NewService(store, l, broker, logger),
	}
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		backend: b,
		store:   store,
		lane:    lane,
		layout:  l,
		metrics: m,
		broker:  broker,
		mcp:     mcpserver.New(svc, m, logger),
		svc:     svc,
	}, nil
}

// seed creates every missing index.
func (rt *runtime) seed(ctx context.Context) error {
	for name, ensure := range map[string]func(context.Context) (bool, error){
		"docs":     rt.svc.Docs.EnsureIndex,
		"kanban":   rt.svc.Kanban.EnsureIndex,
		"progress": rt.svc.Progress.EnsureIndex,
	} {
		created, err := ensure(ctx)
		if err != nil {
			return fmt.Errorf("seed %s index: %w", name, err)
		}
		if created {
			rt.logger.Info("index created", slog.String("collection", name))
		}
	}
	return nil
}

// Close stops the change feed and the write lane, then releases the backend.
func (rt *runtime) Close() {
	rt.broker.Close()
	rt.lane.Close()
	if err := rt.backend.close(); err != nil {
		rt.logger.Warn("close store failed", slog.String("error", err.Error()))
	}
}

func (rt *runtime) authConfig() api.AuthConfig {
	return api.AuthConfig{
		Mode:      rt.cfg.Auth.Mode,
		Token:     rt.cfg.Auth.Token,
		JWTSecret: rt.cfg.Auth.JWTSecret,
	}
}

// router builds the full HTTP surface: health, metrics, /api and /mcp.
func (rt *runtime) router() http.Handler {
	cfg := rt.cfg
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics.Enabled {
		r.Use(rt.metrics.Middleware)
	}

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	// Ready means the docs index is reachable on the store.
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := filestore.ReadOptional(req.Context(), rt.store, rt.layout.DocsIndex()); err != nil {
			rt.logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, rt.metrics.Handler())
	}

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(api.Deps{
		Docs:     rt.svc.Docs,
		Kanban:   rt.svc.Kanban,
		Progress: rt.svc.Progress,
		Auth:     rt.authConfig(),
		Events:   rt.broker,
		Logger:   rt.logger,
	}))

	if cfg.MCP.HTTPEnabled {
		r.With(api.AuthMiddleware(rt.authConfig())).Handle(cfg.MCP.Path, rt.mcp.HTTPHandler(cfg.MCP.Path))
	}
	return r
}

// Run starts the HTTP server (REST API, change feed and MCP over HTTP).
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg.App, os.Stdout, false)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("data_root", cfg.App.DataRoot),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Store.Seed {
		if err := rt.seed(ctx); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           rt.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Report out-of-band edits of local stores on the change feed.
	if cfg.Store.Watch && rt.backend.watchRoot != "" {
		w := &watch.Watcher{
			Root:     rt.backend.watchRoot,
			Notifier: rt.broker,
			Logger:   logger,
		}
		g.Go(func() error {
			if err := w.Run(gCtx); err != nil {
				logger.Warn("watcher exited", slog.String("error", err.Error()))
			}
			return nil
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

		timeout := cfg.App.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
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

// errShutdown cancels the group once the server has been shut down, which
// stops the watcher.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{stdin: os.Stdin, stdout: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(cfg.App, os.Stderr, true)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Store.Seed {
		if err := rt.seed(ctx); err != nil {
			return err
		}
	}

	logger.Info("MCP server starting on stdio",
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("version", mcpserver.Version))

	if err := rt.mcp.ServeStdio(ctx, app.stdin, app.stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// Init creates the missing indexes on the configured store and exits.
func Init(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	logger := app.logger
	if logger == nil {
		logger = newLogger(app.config.App, os.Stderr, true)
	}

	rt, err := newRuntime(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.seed(ctx)
}
