package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-learn/internal/backend"
	"github.com/p-n-ai/pai-learn/internal/curriculum"
	"github.com/p-n-ai/pai-learn/internal/orchestrator"
	"github.com/p-n-ai/pai-learn/internal/platform/cache"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
	"github.com/p-n-ai/pai-learn/internal/progress"
	"github.com/p-n-ai/pai-learn/internal/server"
	"github.com/p-n-ai/pai-learn/internal/session"
)

// migrations create the tables of the Postgres snapshot store and event log.
var migrations = []database.Migration{
	{Name: "001_learning_snapshots", SQL: progress.SnapshotSchema},
	{Name: "002_generation_events", SQL: orchestrator.EventSchema},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	checks := map[string]server.Check{}

	be, err := newBackend(cfg)
	if err != nil {
		return err
	}
	if hc, ok := be.(interface{ HealthCheck(context.Context) error }); ok {
		checks["backend"] = hc.HealthCheck
	}

	var snapshots progress.SnapshotStore = progress.NewMemorySnapshotStore()
	var events orchestrator.EventLogger = orchestrator.NopEventLogger{}

	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx, migrations...); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		store, err := progress.NewPostgresSnapshotStore(db.Pool)
		if err != nil {
			return err
		}
		snapshots = store
		events = orchestrator.NewPostgresEventLogger(db.Pool)
		checks["database"] = db.HealthCheck
		slog.Info("database connected", "max_conns", cfg.Database.MaxConns)
	} else {
		slog.Warn("LEARN_DATABASE_URL not set, progress is kept in memory only")
	}

	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer c.Close()
		snapshots = progress.NewRedisSnapshotCache(c.Client, snapshots, cfg.Cache.SnapshotTTL)
		checks["cache"] = c.HealthCheck
		slog.Info("snapshot cache enabled", "ttl", cfg.Cache.SnapshotTTL.String())
	}

	policy, err := orchestrator.ParseOverlapPolicy(cfg.Orchestrator.Overlap)
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Config{
		Backend:   be,
		Snapshots: snapshots,
		Events:    events,
		Gate: progress.Gate{
			PassPercent:        cfg.Gate.PassPercent,
			EmptyModuleUnlocks: cfg.Gate.EmptyModuleUnlocks,
		},
		Policy:         policy,
		RequestTimeout: cfg.Backend.RequestTimeout,
		PollInterval:   cfg.Poll.Interval,
		PollMaxErrors:  cfg.Poll.MaxErrors,
	})
	defer sessions.CloseAll()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.New(sessions, checks),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout(cfg.Backend.RequestTimeout),
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "overlap_policy", policy.String())
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
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// writeTimeout leaves room for handlers that wait on a single backend call.
func writeTimeout(requestTimeout time.Duration) time.Duration {
	return max(30*time.Second, requestTimeout+15*time.Second)
}

// newBackend returns the HTTP backend when a URL is configured and the
// fixture backend otherwise.
func newBackend(cfg *config.Config) (backend.Backend, error) {
	if cfg.Backend.URL != "" {
		opts := []backend.Option{
			backend.WithHTTPClient(&http.Client{Timeout: cfg.Backend.RequestTimeout}),
		}
		if cfg.Backend.Token != "" {
			opts = append(opts, backend.WithTokenSource(backend.StaticToken(cfg.Backend.Token)))
		}
		slog.Info("using learning backend", "url", cfg.Backend.URL)
		return backend.NewHTTPClient(cfg.Backend.URL, opts...), nil
	}
	if cfg.FixturesPath != "" {
		loader, err := curriculum.NewLoader(cfg.FixturesPath)
		if err != nil {
			return nil, err
		}
		slog.Info("using fixture backend", "path", cfg.FixturesPath, "enrollments", len(loader.Enrollments()))
		return backend.NewFixtureBackend(loader), nil
	}
	return nil, fmt.Errorf("no backend configured")
}

// newLogger builds the process logger from LEARN_LOG_LEVEL and LEARN_LOG_FORMAT.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
