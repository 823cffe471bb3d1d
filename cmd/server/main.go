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

	"github.com/joho/godotenv"

	apihttp "github.com/avoronov/modelfetch/internal/api/http"
	cfgpkg "github.com/avoronov/modelfetch/internal/config"
	"github.com/avoronov/modelfetch/internal/recordstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	store, err := recordstore.New(cfg.StateFile, slog.Default())
	if err != nil {
		slog.Error("failed to initialize record store", "error", err)
		os.Exit(1)
	}

	router := apihttp.NewRouter(store, slog.Default())
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		// No write timeout: watch connections stream indefinitely.
		IdleTimeout: cfg.HTTPTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	} else {
		slog.Info("server stopped gracefully")
	}
}
