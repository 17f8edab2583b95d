package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/migrations"
	"github.com/pewsoft/subscriptions/internal/postgres"
)

func main() {
	command := flag.String("command", "up", "Migration command: up, down or status")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout including connection retries")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)

	// The database may still be starting when the job runs
	var db *postgres.DB
	connect := func() error {
		var err error
		db, err = postgres.NewDB(cfg, logger)
		if err != nil {
			logger.Warnw("database not ready", "error", err)
		}
		return err
	}
	if err := backoff.Retry(connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	switch *command {
	case "up":
		logger.Info("Running database migrations...")
		err = migrations.Up(ctx, db.DB.DB, logger)
	case "down":
		logger.Info("Rolling back the latest migration...")
		err = migrations.Down(ctx, db.DB.DB, logger)
	case "status":
		err = migrations.Status(ctx, db.DB.DB, logger)
	default:
		logger.Fatalw("Unknown migration command", "command", *command)
	}
	if err != nil {
		logger.Fatalw("Migration failed", "command", *command, "error", err)
	}

	fmt.Println("Migration process completed")
}
