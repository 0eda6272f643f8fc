package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"sage/internal/amqp"
	"sage/internal/config"
	"sage/internal/gateway"
	applog "sage/internal/log"
	"sage/internal/services"
	"sage/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelWarn, // keep CLI output readable
		Component: applog.ComponentImport,
	})
	applog.SetDefault(logger)

	var (
		userID    = flag.String("user", "", "user id to import for (required)")
		email     = flag.String("email", "", "user email for anomaly alerts")
		file      = flag.String("file", "", "csv file to import (default: CSV_PATH)")
		deleteAll = flag.Bool("delete", false, "delete all transactions for the user instead of importing")
	)
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()

	if *deleteAll {
		deleted, err := repo.DeleteAllTransactions(ctx, *userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: delete transactions: %v\n", err)
			os.Exit(1)
		}
		// Announce the shrunk list so the worker's watcher re-arms.
		if amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
			fmt.Fprintf(os.Stderr, "warning: AMQP unavailable, worker will not be notified: %v\n", err)
		} else {
			if err := amqpClient.PublishTransactionsDeleted(ctx, *userID, deleted); err != nil {
				fmt.Fprintf(os.Stderr, "warning: publish delete message: %v\n", err)
			}
			amqpClient.Close()
		}
		fmt.Printf("deleted %d transactions for %s\n", deleted, *userID)
		return
	}

	path := *file
	if path == "" {
		path = cfg.CSVPath
	}

	txs, err := gateway.NewCSVReader().ReadFile(path, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: read %s: %v\n", path, err)
		os.Exit(1)
	}

	// Without a broker the import still lands in SQLite; the worker just
	// has to be pointed at the data some other way.
	var publisher services.ImportPublisher
	if amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
		fmt.Fprintf(os.Stderr, "warning: AMQP unavailable, worker will not be notified: %v\n", err)
	} else {
		publisher = amqpClient
		defer amqpClient.Close()
	}

	result, err := services.NewImportService(repo, publisher).Import(ctx, *userID, *email, txs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: import: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("run %s: imported %d, skipped %d duplicates, failed %d (of %d rows)\n",
		result.RunID, result.Imported, result.Skipped, result.Failed, len(txs))
	if result.Failed > 0 {
		os.Exit(1)
	}
}
