package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/manifestgen/internal/application"
	"github.com/JonMunkholm/manifestgen/internal/config"
	"github.com/JonMunkholm/manifestgen/internal/logging"
	"github.com/JonMunkholm/manifestgen/internal/queue"
	"github.com/JonMunkholm/manifestgen/internal/web"
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

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"record_store", cfg.Backend.RecordStore,
		"blob_store", cfg.Backend.BlobStore,
		"max_workers", cfg.Pipeline.MaxWorkers,
		"queue_enabled", cfg.Queue.URL != "",
	)

	ctx := context.Background()
	app, err := application.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(app.Orchestrator, app.Pool, cfg)

	// Cancellable context for the queue consumer
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()

	if cfg.Queue.URL != "" {
		conn, err := queue.Dial(consumerCtx, cfg.Queue.URL, 10)
		if err != nil {
			slog.Error("failed to connect to queue", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		consumer := queue.NewConsumer(app.Orchestrator, cfg.Queue.Queue, cfg.Queue.Prefetch, cfg.Pipeline.BatchTimeout)
		go func() {
			if err := consumer.Run(consumerCtx, conn); err != nil {
				slog.Error("queue consumer stopped", "error", err)
			}
		}()
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop taking new queue deliveries
		stopConsumer()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running table jobs to finish (with timeout)
		poolStatus := app.Pool.Status()
		if poolStatus.Active > 0 || poolStatus.Pending > 0 {
			slog.Info("waiting for table jobs to complete", "active", poolStatus.Active, "pending", poolStatus.Pending)
			if err := app.Pool.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("table jobs did not complete in time", "error", err)
			} else {
				slog.Info("all table jobs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
