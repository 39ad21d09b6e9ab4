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

	"golang.org/x/sync/errgroup"

	"github.com/star/driftcast/internal/api"
	"github.com/star/driftcast/internal/config"
	"github.com/star/driftcast/internal/forecast"
	"github.com/star/driftcast/internal/health"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/logging"
	"github.com/star/driftcast/internal/metrics"
	"github.com/star/driftcast/internal/observability"
	"github.com/star/driftcast/internal/publish"
	"github.com/star/driftcast/internal/sites"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid .env file:", err)
		os.Exit(1)
	}

	logger, closeLog := logging.New(logging.ConfigFromEnv())
	if err := run(logger); err != nil {
		logger.Error("driftcast exited", "error", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(shutdownTracing, logger)

	var readyChecks []health.Check

	fetcher := forecast.NewFetcher(cfg.Forecast.SourceURL, cfg.Forecast.Timeout, logger)
	var raw forecast.RawSource = fetcher

	if cfg.Forecast.ArchiveDir != "" {
		archive, err := forecast.NewArchive(cfg.Forecast.ArchiveDir, cfg.Forecast.ArchiveMaxFiles)
		if err != nil {
			return fmt.Errorf("opening forecast archive: %w", err)
		}
		raw = forecast.NewArchiveSource(raw, archive, logger)
		logger.Info("forecast archive enabled", "dir", archive.Dir())
	}

	if cfg.Redis.Addr != "" {
		client, err := forecast.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("redis unavailable, continuing without shared cache", "addr", cfg.Redis.Addr, "error", err)
		} else {
			rc, err := forecast.NewRedisCache(client, raw, cfg.Redis.TTL, logger)
			if err != nil {
				client.Close()
				return fmt.Errorf("creating redis cache: %w", err)
			}
			defer rc.Close()
			raw = rc
			readyChecks = append(readyChecks, health.Check{Name: "redis", Ping: rc.Ping})
			logger.Info("redis cache enabled", "addr", cfg.Redis.Addr, "ttl_seconds", cfg.Redis.TTL.Seconds())
		}
	}

	var memCache *forecast.MemoryCache
	if cfg.Forecast.CacheEntries > 0 {
		memCache = forecast.NewMemoryCache(cfg.Forecast.CacheEntries, cfg.Forecast.CacheTTL)
	}
	forecasts := forecast.NewClient(raw, memCache, cfg.Forecast.Model, logger)

	store, closeStore, err := openSiteStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	readyChecks = append(readyChecks, health.Check{Name: "sites", Ping: store.Ping})

	var pub api.Publisher
	if cfg.NATS.URL != "" {
		p, err := publish.New(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			logger.Warn("nats unavailable, batches will not be published", "url", cfg.NATS.URL, "error", err)
		} else {
			defer p.Close()
			pub = p
		}
	}

	planner := launch.NewPlanner(forecasts, cfg.MaxWindowHours, logger)

	opts := api.Options{
		Auth:        cfg.Auth,
		Stream:      cfg.Stream,
		Planner:     planner,
		Sites:       store,
		Publisher:   pub,
		ReadyChecks: readyChecks,
	}
	if memCache != nil {
		opts.Cache = memCache
	}
	srv := api.NewServer(cfg.HTTPAddr, logger, opts)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			"addr", cfg.HTTPAddr,
			"auth_enabled", cfg.Auth.Enabled,
			"max_window_hours", cfg.MaxWindowHours,
			"default_model", forecasts.DefaultModel(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})

	// Background goroutine to update the forecast age gauge.
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if last := fetcher.LastSuccess(); !last.IsZero() {
					metrics.SetForecastAge(time.Since(last).Seconds())
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openSiteStore returns the Postgres store when dsn is set, otherwise an
// in-memory store.
func openSiteStore(ctx context.Context, dsn string, logger *slog.Logger) (sites.Store, func() error, error) {
	if dsn == "" {
		logger.Info("no database configured, sites are kept in memory")
		return sites.NewMemoryStore(), func() error { return nil }, nil
	}

	pg, err := sites.NewPostgresStore(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening site database: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("creating site schema: %w", err)
	}
	logger.Info("site store connected", "backend", "postgres")
	return pg, pg.Close, nil
}
