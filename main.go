package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/rssreader/internal/config"
	"github.com/bryan-buckman/rssreader/internal/database"
	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/library"
	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/bryan-buckman/rssreader/internal/refresh"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/bryan-buckman/rssreader/internal/server"
)

const (
	refreshCycleTimeout = 10 * time.Minute
	shutdownTimeout     = 10 * time.Second
)

func main() {
	cfg, err := config.Parse(nil)
	if err != nil {
		slog.Error("Failed to load config",
			"error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("Exiting with error",
			"error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.StoreOptions(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close store",
				"error", err,
				"store", store.DatabaseType())
		}
	}()
	log.InfoContext(ctx, "Store is initialized",
		"store", store.DatabaseType())

	m := metrics.New()
	bus := event.NewBus()

	fetcher := rss.NewFetcher(rss.FetcherConfig{
		Timeout:      cfg.FetchTimeout,
		MaxBodyBytes: cfg.FetchMaxBodyBytes,
		UserAgent:    cfg.UserAgent,
		HostInterval: cfg.HostRequestInterval,
		Concurrency:  cfg.FetchConcurrency,
	}, rss.NewParser(), m, log)

	lib := library.New(ctx, store, fetcher, bus, m, log, library.Options{ExportDir: cfg.ExportDir})

	debouncer := refresh.NewDebouncer(ctx, cfg.RefreshDebounce, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, refreshCycleTimeout)
		defer cancel()
		if _, err := lib.RefreshAll(ctx); err != nil {
			log.WarnContext(ctx, "Refresh cycle interrupted",
				"error", err)
		}
	}, m, log)
	defer debouncer.Stop()

	scheduler := refresh.NewScheduler(cfg.RefreshSchedule, debouncer.Trigger, log)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := server.New(lib, debouncer, bus, m, log)
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("Exiting...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down server",
			"error", err)
	}
	return nil
}
