package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sage/internal/amqp"
	"sage/internal/anomaly"
	"sage/internal/chat"
	"sage/internal/config"
	"sage/internal/core"
	"sage/internal/email"
	apphttp "sage/internal/http"
	applog "sage/internal/log"
	"sage/internal/services"
	"sage/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	logger.Info("Starting sage server")

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

	// AMQP is optional: without it imports and deletes still land in
	// SQLite, the worker just never hears about them.
	var publisher services.ImportPublisher
	var events apphttp.DeletePublisher
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("AMQP unavailable, list changes will not notify the worker", "error", err)
	} else {
		publisher = amqpClient
		events = amqpClient
		defer amqpClient.Close()
	}

	detector := anomaly.NewClient(cfg.AnomalyServiceURL, cfg.HTTPTimeout)

	var sender email.Sender
	if cfg.EmailServiceURL != "" {
		sender = email.NewClient(cfg.EmailServiceURL, cfg.HTTPTimeout)
	} else {
		logger.Info("Email alerts disabled - no EMAIL_SERVICE_URL provided")
	}

	monitor := services.NewAnomalyMonitor(detector, sender, services.MonitorConfig{
		DefaultPeriod: core.TimePeriod(cfg.DefaultPeriod),
		Now:           time.Now,
	})

	var chatSvc apphttp.ChatAsker
	if completer, err := chat.NewGeminiClient(context.Background(), cfg.ChatModel); err != nil {
		logger.Warn("Chat assistant disabled", "error", err)
	} else {
		chatSvc = services.NewChatService(repo, completer)
		logger.Info("Chat assistant initialized", "model", cfg.ChatModel)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:   repo,
		Monitor: monitor,
		Import:  services.NewImportService(repo, publisher),
		Chat:    chatSvc,
		Events:  events,
		CSVPath: cfg.CSVPath,
	})

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
