package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect hides the differences between the SQL backends.
type Dialect interface {
	// Name is the goose dialect and the migrations subdirectory.
	Name() string
	DriverName() string
	DSN(url string) string
	// RewriteQuery converts ? placeholders where the driver needs it.
	RewriteQuery(query string) string
	ConfigureConnection(db *sql.DB) error
	// LockStatement serializes writers for the rest of the transaction.
	// Empty when BeginTx already takes a write lock.
	LockStatement() string
	ReadOptions() *sql.TxOptions
	// ReaderDSN opens a separate pool for View transactions. Empty when
	// reads can share the writer pool.
	ReaderDSN(url string) string
}

// DialectFor returns the dialect of a STORE_BACKEND value.
func DialectFor(backend string) (Dialect, error) {
	switch strings.ToLower(backend) {
	case "postgres", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database backend: %s", backend)
}

var placeholderRegexp = regexp.MustCompile(`\?`)

func rewritePlaceholdersToNumbered(query string) string {
	counter := 0
	return placeholderRegexp.ReplaceAllStringFunc(query, func(string) string {
		counter++
		return "$" + strconv.Itoa(counter)
	})
}

const rowLock = "SELECT id FROM store_lock WHERE id = 1 FOR UPDATE"

type postgresDialect struct{}

func (postgresDialect) Name() string          { return "postgres" }
func (postgresDialect) DriverName() string    { return "pgx" }
func (postgresDialect) DSN(url string) string { return url }
func (postgresDialect) RewriteQuery(query string) string {
	return rewritePlaceholdersToNumbered(query)
}
func (postgresDialect) LockStatement() string   { return rowLock }
func (postgresDialect) ReaderDSN(string) string { return "" }
func (postgresDialect) ReadOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (postgresDialect) ConfigureConnection(db *sql.DB) error {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return nil
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

// DSN makes DATETIME columns scan into time.Time.
func (mysqlDialect) DSN(url string) string {
	if strings.Contains(url, "parseTime=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&parseTime=true"
	}
	return url + "?parseTime=true"
}

func (mysqlDialect) RewriteQuery(query string) string { return query }
func (mysqlDialect) LockStatement() string            { return rowLock }
func (mysqlDialect) ReaderDSN(string) string          { return "" }
func (mysqlDialect) ReadOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (mysqlDialect) ConfigureConnection(db *sql.DB) error {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite3" }
func (sqliteDialect) DriverName() string { return "sqlite3" }

// DSN opens every transaction with BEGIN IMMEDIATE and turns on foreign keys
// for each pooled connection.
func (sqliteDialect) DSN(path string) string {
	return sqliteDSN(path, "immediate")
}

// ReaderDSN keeps BEGIN DEFERRED for reads so a View never queues behind
// the writer; under WAL it reads the last committed snapshot.
func (sqliteDialect) ReaderDSN(path string) string {
	return sqliteDSN(path, "deferred")
}

func sqliteDSN(path, txlock string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=" + txlock + "&_foreign_keys=on&_busy_timeout=5000"
}

func (sqliteDialect) RewriteQuery(query string) string { return query }
func (sqliteDialect) LockStatement() string            { return "" }
func (sqliteDialect) ReadOptions() *sql.TxOptions      { return nil }

func (sqliteDialect) ConfigureConnection(db *sql.DB) error {
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return err
	}
	return nil
}
