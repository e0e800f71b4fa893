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

	"github.com/lysyi3m/rss-relay/app/api"
	"github.com/lysyi3m/rss-relay/app/cfg"
	"github.com/lysyi3m/rss-relay/app/database"
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/logger"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/paths"
	"github.com/lysyi3m/rss-relay/app/relay"
	"github.com/lysyi3m/rss-relay/app/state"
	"github.com/lysyi3m/rss-relay/app/tasks"
	"github.com/lysyi3m/rss-relay/app/webhook"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	c, err := cfg.Load(args)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitConfigError
	}
	if c == nil {
		return exitOK
	}

	p := paths.Resolve(paths.Paths{
		LogPath:   c.LogPath,
		StatePath: c.StatePath,
		MetaPath:  c.MetaPath,
		StateDB:   c.StateDB,
	})

	closer := logger.Setup(logger.Options{Path: p.LogPath, Verbose: c.Verbose})
	defer closer.Close()

	slog.Info("Starting RSS relay", "version", c.Version, "config", c.ConfigPath, "daemon", c.Daemon())

	registry := feed.LoadRegistry(c.Feeds, c.FeedsFile, c.FeedsDir)
	opts := relay.Options{
		WebhookURL: c.WebhookURL,
		MaxPerRun:  c.MaxPerRun,
		Icon:       c.Icon,
	}
	if err := relay.Validate(opts, registry); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitConfigError
	}
	slog.Debug("Feeds loaded", "count", registry.Len())

	var seenStore state.SeenStore
	var metaStore state.MetaStore
	switch c.StateBackend {
	case "sqlite":
		db, err := database.Open(p.StateDB)
		if err != nil {
			slog.Error("Failed to open state database", "path", p.StateDB, "error", err)
			return exitFailure
		}
		defer db.Close()

		repo := database.NewStateRepository(db)
		seenStore, metaStore = repo, repo
	default:
		seenStore = state.NewFileSeenStore(p.StatePath)
		metaStore = state.NewFileMetaStore(p.MetaPath)
	}

	httpClient := &http.Client{}
	m := metrics.New()

	scheduler := tasks.NewScheduler(httpClient, feed.NewParser(), tasks.Options{
		UserAgent:   c.UserAgent,
		Timeout:     c.Timeout,
		WorkerCount: c.MaxConcurrency,
		Budget:      c.FetchBudget,
	})
	publisher := webhook.NewPublisher(httpClient, webhook.Options{
		URL:       c.WebhookURL,
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout,
		PostDelay: c.PostDelay,
	})
	r := relay.New(registry, scheduler, publisher, seenStore, metaStore, m, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !c.Daemon() {
		if _, err := r.Run(ctx); err != nil {
			slog.Error("Relay run failed", "error", err)
			if errors.Is(err, relay.ErrConfiguration) {
				return exitConfigError
			}
			return exitFailure
		}
		return exitOK
	}

	return runDaemon(ctx, c, r, registry, m)
}

func runDaemon(ctx context.Context, c *cfg.Cfg, r *relay.Relay, registry *feed.Registry, m *metrics.Metrics) int {
	daemon := relay.NewDaemon(r, c.Interval)

	var httpServer *http.Server
	serverErrChan := make(chan error, 1)
	if c.Listen != "" {
		handler := api.NewHandler(daemon, registry, m, c.Version)
		httpServer = &http.Server{
			Addr:         c.Listen,
			Handler:      api.NewServer(handler, c.APIAccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			slog.Info("Starting HTTP server", "addr", c.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		daemon.Start(ctx)
	}()

	slog.Info("Relay daemon started", "interval", c.Interval)

	exitCode := exitOK
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
		exitCode = exitFailure
	}

	cancel()
	<-done

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}

	slog.Info("Relay daemon stopped")
	return exitCode
}
