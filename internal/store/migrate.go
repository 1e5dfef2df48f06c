package store

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrations embed.FS

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

func withGoose(d Dialect, fn func(dir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(d.Name()); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn("migrations/" + d.Name())
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *DB) error {
	return withGoose(db.Dialect, func(dir string) error {
		if err := goose.UpContext(ctx, db.Client, dir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// MigrateDown rolls back the latest migration.
func MigrateDown(ctx context.Context, db *DB) error {
	return withGoose(db.Dialect, func(dir string) error {
		return goose.DownContext(ctx, db.Client, dir)
	})
}

// MigrationStatus prints the state of every migration through goose's logger.
func MigrationStatus(ctx context.Context, db *DB) error {
	return withGoose(db.Dialect, func(dir string) error {
		return goose.StatusContext(ctx, db.Client, dir)
	})
}

// MigrationVersion returns the current schema version.
func MigrationVersion(ctx context.Context, db *DB) (int64, error) {
	var version int64
	err := withGoose(db.Dialect, func(string) error {
		v, err := goose.GetDBVersionContext(ctx, db.Client)
		version = v
		return err
	})
	return version, err
}
