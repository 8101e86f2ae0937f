package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/content/pgstore"
	"github.com/JonMunkholm/pagegen/internal/core"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/jobcache"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/JonMunkholm/pagegen/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if cfg.Database.MigrateOnStart {
		if err := pgstore.Migrate(cfg.Database.URL); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema up to date")
	}

	ctx := context.Background()
	pool, err := pgstore.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	store := pgstore.New(pool)

	var cache jobcache.Cache
	if cfg.Redis.URL != "" {
		rc, err := jobcache.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
		if err != nil {
			// Results still live in memory for their TTL; only cross-restart
			// lookups are lost.
			slog.Warn("job result cache unavailable", "error", err)
		} else {
			defer rc.Close()
			cache = rc
			slog.Info("job result cache enabled")
		}
	}

	logger := slog.Default()
	service, err := core.NewService(core.Options{
		Store:   store,
		History: store,
		Cache:   cache,
		Runner:  generate.NewRunner(store, logger),
		Config:  cfg.Generate,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg, store)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new jobs start.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for generation jobs to complete", "active", status.Active)
			if err := service.WaitForJobs(shutdownCtx); err != nil {
				slog.Warn("jobs did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all jobs completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
