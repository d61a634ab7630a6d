package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"docbrief/internal/app"
	"docbrief/internal/config"
	"docbrief/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("app exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 2. Infrastructure
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("failed to release dependencies", "error", err)
		}
	}()

	// 3. Application
	application, err := app.New(cfg, deps.DB, deps.Vectors, deps.Objects, deps.NSQProducer, deps.Models, log)
	if err != nil {
		return err
	}

	log.Info("docbrief starting", "api", cfg.EnableAPI, "worker", cfg.EnableWorker, "vector_backend", cfg.VectorBackend, "provider", cfg.Provider)
	return application.Run(ctx)
}
