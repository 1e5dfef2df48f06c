package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"eventcheckin/internal/config"
	"eventcheckin/internal/logging"
	"eventcheckin/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.StoreBackend == config.BackendFile {
		log.Fatal("the file backend has no schema; set STORE_BACKEND to postgres, mysql or sqlite")
	}

	// Get command from arguments (default to "up")
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx := context.Background()
	db, err := store.OpenDB(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("connected", zap.String("dialect", db.Dialect.Name()), zap.String("command", command))

	switch command {
	case "up":
		if err := store.Migrate(ctx, db); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
		log.Info("migrations completed successfully")
	case "down":
		if err := store.MigrateDown(ctx, db); err != nil {
			log.Fatal("failed to roll back migration", zap.Error(err))
		}
		log.Info("rollback completed successfully")
	case "status":
		if err := store.MigrationStatus(ctx, db); err != nil {
			log.Fatal("failed to get migration status", zap.Error(err))
		}
	case "version":
		version, err := store.MigrationVersion(ctx, db)
		if err != nil {
			log.Fatal("failed to get version", zap.Error(err))
		}
		log.Info("current migration version", zap.Int64("version", version))
	default:
		log.Fatal("unknown command, available commands: up, down, status, version", zap.String("command", command))
	}
}
