package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/avoronov/modelfetch/internal/client"
	cfgpkg "github.com/avoronov/modelfetch/internal/config"
	"github.com/avoronov/modelfetch/internal/scheduler"
	"github.com/avoronov/modelfetch/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully",
		"worker_id", cfg.WorkerID,
		"server_url", cfg.ServerURL,
		"max_concurrent_downloads", cfg.MaxConcurrentDownloads,
	)

	cl := client.New(cfg.ServerURL)
	sched := scheduler.New(cfg, cl, slog.Default())
	w := watcher.New(cfg.WorkerID, cl, sched, cfg.WatchRetryDelay, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watcher stopped", "error", err)
	}

	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := sched.Shutdown(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown timed out", "error", err)
	} else {
		slog.Info("worker stopped gracefully")
	}
}
