package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DB wraps sql.DB together with the dialect it was opened with. Reader is
// the pool for read-only transactions; it is Client unless the dialect asks
// for a separate one.
type DB struct {
	Client  *sql.DB
	Reader  *sql.DB
	Dialect Dialect
}

// NewDB opens and pings a database for backend ("postgres", "mysql" or
// "sqlite"). dsn is a URL for the servers and a file path for sqlite.
func NewDB(ctx context.Context, backend, dsn string) (*DB, error) {
	dialect, err := DialectFor(backend)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.DriverName(), dialect.DSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	if err := dialect.ConfigureConnection(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure %s: %w", dialect.Name(), err)
	}
	out := &DB{Client: db, Reader: db, Dialect: dialect}

	if readerDSN := dialect.ReaderDSN(dsn); readerDSN != "" {
		reader, err := sql.Open(dialect.DriverName(), readerDSN)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open %s reader: %w", dialect.Name(), err)
		}
		if err := reader.PingContext(ctx); err != nil {
			_ = reader.Close()
			_ = db.Close()
			return nil, fmt.Errorf("ping %s reader: %w", dialect.Name(), err)
		}
		if err := dialect.ConfigureConnection(reader); err != nil {
			_ = reader.Close()
			_ = db.Close()
			return nil, fmt.Errorf("configure %s reader: %w", dialect.Name(), err)
		}
		out.Reader = reader
	}
	return out, nil
}

// Close closes the underlying connections.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	var readerErr error
	if d.Reader != nil && d.Reader != d.Client {
		readerErr = d.Reader.Close()
	}
	if err := d.Client.Close(); err != nil {
		return err
	}
	return readerErr
}
