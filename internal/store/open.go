package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"eventcheckin/internal/attendee"
	"eventcheckin/internal/config"
)

// Backend is the store selected by configuration.
type Backend interface {
	attendee.Store
	attendee.Pinger
}

// Open builds the backend named by cfg.StoreBackend. SQL backends are
// migrated first when cfg.MigrateOnStart is set. The returned func releases
// the connection.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (Backend, func() error, error) {
	noop := func() error { return nil }

	if cfg.StoreBackend == config.BackendFile {
		file, err := NewFileStore(cfg.DataFile, cfg.LockTimeout, log)
		if err != nil {
			return nil, noop, err
		}
		log.Info("using file store", zap.String("path", cfg.DataFile))
		return file, noop, nil
	}

	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	if cfg.MigrateOnStart {
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		version, err := MigrationVersion(ctx, db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		log.Info("schema migrated", zap.String("dialect", db.Dialect.Name()), zap.Int64("version", version))
	}
	log.Info("using sql store", zap.String("dialect", db.Dialect.Name()))
	return NewSQLStore(db, cfg.LockTimeout, log), db.Close, nil
}

// OpenDB connects to the SQL database configured in cfg.
func OpenDB(ctx context.Context, cfg config.App) (*DB, error) {
	dsn := cfg.DatabaseURL
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		dsn = cfg.SQLitePath
	case config.BackendPostgres, config.BackendMySQL:
	default:
		return nil, fmt.Errorf("store backend %q has no database", cfg.StoreBackend)
	}
	return NewDB(ctx, cfg.StoreBackend, dsn)
}
