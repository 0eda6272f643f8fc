package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sage/internal/amqp"
	"sage/internal/anomaly"
	"sage/internal/config"
	"sage/internal/core"
	"sage/internal/email"
	applog "sage/internal/log"
	"sage/internal/services"
	"sage/internal/storage"
	"sage/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting sage-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	detector := anomaly.NewClient(cfg.AnomalyServiceURL, cfg.HTTPTimeout)

	var sender email.Sender
	if cfg.EmailServiceURL != "" {
		sender = email.NewClient(cfg.EmailServiceURL, cfg.HTTPTimeout)
		logger.Info("Email alerts enabled", "recipient_fallback", cfg.AlertRecipient)
	} else {
		logger.Info("Email alerts disabled - no EMAIL_SERVICE_URL provided")
	}

	monitor := services.NewAnomalyMonitor(detector, sender, services.MonitorConfig{
		DefaultPeriod: core.TimePeriod(cfg.DefaultPeriod),
		Now:           time.Now,
	})

	w := worker.NewAnomalyWorker(repo, monitor, cfg.AlertRecipient)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeTransactionListChanges(gctx, w.HandleListChange)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
