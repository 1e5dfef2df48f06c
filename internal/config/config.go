package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"eventcheckin/internal/attendee"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
	BackendSQLite   = "sqlite"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string
	HTTPPort string
	LogLevel string

	StoreBackend   string
	DataFile       string
	LockTimeout    time.Duration
	DatabaseURL    string
	SQLitePath     string
	MigrateOnStart bool
	TxRetries      int

	RedisAddr    string
	QueueBackend string

	EventStart   string
	EventEnd     string
	SlotInterval time.Duration
	SlotCapacity int

	RequestTimeout  time.Duration
	RateLimitPerMin int
	SweepInterval   time.Duration

	SESRegion    string
	SESFromEmail string
	SESFromName  string
}

// Production reports whether the app runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// SlotPlan builds the photography slot plan from the event settings.
func (a App) SlotPlan() (attendee.SlotPlan, error) {
	return attendee.NewSlotPlan(a.EventStart, a.EventEnd, a.SlotInterval, a.SlotCapacity)
}

// Load reads an optional .env file, then the environment. Every invalid
// value is reported in the returned error.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return App{}, fmt.Errorf("load .env: %w", err)
	}

	e := &env{}
	cfg := App{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", ""),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
		DataFile:       getEnv("DATA_FILE", "data/attendees.json"),
		LockTimeout:    e.durationEnv("LOCK_TIMEOUT", 5*time.Second),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/checkin.db"),
		MigrateOnStart: e.boolEnv("MIGRATE_ON_START", true),
		TxRetries:      e.intEnv("TX_RETRIES", 3),

		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend: strings.ToLower(getEnv("QUEUE_BACKEND", "memory")),

		EventStart:   getEnv("EVENT_START", "18:00"),
		EventEnd:     getEnv("EVENT_END", "22:00"),
		SlotInterval: e.durationEnv("SLOT_INTERVAL", 15*time.Minute),
		SlotCapacity: e.intEnv("SLOT_CAPACITY", 5),

		RequestTimeout:  e.durationEnv("REQUEST_TIMEOUT", 10*time.Second),
		RateLimitPerMin: e.intEnv("RATE_LIMIT_PER_MIN", 120),
		SweepInterval:   e.durationEnv("SWEEP_INTERVAL", 5*time.Minute),

		SESRegion:    getEnv("SES_REGION", "us-east-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Event Photography"),
	}
	e.errs = append(e.errs, cfg.validate()...)
	if err := errors.Join(e.errs...); err != nil {
		return App{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (a App) validate() []error {
	var errs []error
	switch a.StoreBackend {
	case BackendFile:
		if a.DataFile == "" {
			errs = append(errs, errors.New("DATA_FILE is required for the file backend"))
		}
	case BackendPostgres, BackendMySQL:
		if a.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the %s backend", a.StoreBackend))
		}
	case BackendSQLite:
		if a.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q must be one of file, postgres, mysql, sqlite", a.StoreBackend))
	}
	if a.QueueBackend != "memory" && a.QueueBackend != "redis" {
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND %q must be memory or redis", a.QueueBackend))
	}
	if a.LockTimeout <= 0 {
		errs = append(errs, errors.New("LOCK_TIMEOUT must be positive"))
	}
	if a.TxRetries < 0 {
		errs = append(errs, errors.New("TX_RETRIES must not be negative"))
	}
	if a.RateLimitPerMin <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MIN must be positive"))
	}
	if a.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if _, err := a.SlotPlan(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// env collects parse failures so Load can report all of them at once.
type env struct {
	errs []error
}

func (e *env) durationEnv(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid duration for %s: %w", key, err))
		return fallback
	}
	return d
}

func (e *env) boolEnv(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid bool for %s: %q", key, val))
		return fallback
	}
	return b
}

func (e *env) intEnv(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int for %s: %q", key, val))
		return fallback
	}
	return n
}
