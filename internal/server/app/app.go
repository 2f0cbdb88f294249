// Package app assembles the relationship engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/systemshift/relgraph/internal/server/api"
	"github.com/systemshift/relgraph/internal/server/config"
	"github.com/systemshift/relgraph/internal/server/graph"
	"github.com/systemshift/relgraph/internal/server/registry"
	"github.com/systemshift/relgraph/internal/server/relationships"
	"github.com/systemshift/relgraph/internal/server/subscriptions"
	"github.com/systemshift/relgraph/internal/server/telemetry"
)

// App owns the configured backend and its supporting services.
type App struct {
	Store         api.Store
	Registry      *registry.Registry
	Subscriptions *subscriptions.Manager

	// SQLite is set when the sqlite backend is selected; it adds node management.
	SQLite *relationships.SQLiteStore

	health  func(context.Context) error
	closers []func() error
	logger  *slog.Logger
}

// New connects the backend selected by cfg. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	tp, err := telemetry.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	if tp != nil {
		a.closers = append(a.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tp.Shutdown(shutdownCtx)
		})
		logger.Info("tracing enabled",
			slog.String("endpoint", cfg.Tracing.Endpoint),
			slog.Float64("sample_rate", cfg.Tracing.SampleRate),
		)
	}

	reg, err := loadRegistry(cfg.RegistryFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = reg

	subOpts := []subscriptions.Option{subscriptions.WithLogger(logger)}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("relgraph"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		a.closers = append(a.closers, nc.Drain)
		subOpts = append(subOpts, subscriptions.WithPublisher(nc, cfg.NATSSubjectPrefix))
		logger.Info("connected to nats", slog.String("url", cfg.NATSURL))
	}

	var exec graph.Executor
	if cfg.Backend == config.BackendNeo4j {
		client, err := graph.New(ctx, cfg.Neo4j.Graph(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { return client.Close(context.Background()) })
		a.health = client.Health
		exec = graph.Instrument(client)
		subOpts = append(subOpts, subscriptions.WithExecutor(exec))
	}

	a.Subscriptions = subscriptions.NewManager(subOpts...)
	if cfg.SubscriptionsFile != "" {
		if _, err := a.Subscriptions.LoadFile(cfg.SubscriptionsFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	storeOpts := []relationships.Option{
		relationships.WithLogger(logger),
		relationships.WithEventEmitter(a.Subscriptions.GetEmitter()),
	}

	switch cfg.Backend {
	case config.BackendNeo4j:
		a.Store = relationships.NewService(exec, reg, storeOpts...)
	case config.BackendSQLite:
		store, err := relationships.OpenSQLite(ctx, cfg.SQLitePath, reg, storeOpts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.health = store.Health
		a.SQLite = store
		a.Store = store
	default:
		a.Close()
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	logger.Info("relationship engine ready",
		slog.String("backend", cfg.Backend),
		slog.Int("entity_types", len(reg.Types())),
	)
	return a, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}
	reg, err := registry.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}
	return reg, nil
}

// Start begins subscription event dispatch.
func (a *App) Start(ctx context.Context) error {
	return a.Subscriptions.Start(ctx)
}

// Health probes the backend.
func (a *App) Health(ctx context.Context) error {
	if a.health == nil {
		return nil
	}
	return a.health(ctx)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.New(a.Store, a.Subscriptions,
		api.WithHealthCheck(a.Health),
		api.WithLogger(a.logger),
	).Routes()
}

// Serve runs the HTTP API on port until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (a *App) Serve(ctx context.Context, port int, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort("", strconv.Itoa(port)),
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting relgraph server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server exited")
	return nil
}

// Close stops dispatch and releases connections in reverse order.
func (a *App) Close() error {
	if a.Subscriptions != nil {
		a.Subscriptions.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
