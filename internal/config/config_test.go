package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendFile, cfg.StoreBackend)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 3, cfg.TxRetries)
	assert.False(t, cfg.Production())

	plan, err := cfg.SlotPlan()
	require.NoError(t, err)
	assert.Len(t, plan.Values(), 16)
	assert.Equal(t, 5, plan.Capacity())
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SLOT_CAPACITY", "2")
	t.Setenv("SLOT_INTERVAL", "30m")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.False(t, cfg.MigrateOnStart)

	plan, err := cfg.SlotPlan()
	require.NoError(t, err)
	assert.Equal(t, []string{"18:00", "18:30", "19:00", "19:30", "20:00", "20:30", "21:00", "21:30"}, plan.Values())
}

func TestLoadReportsEveryProblem(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LOCK_TIMEOUT", "soon")
	t.Setenv("SLOT_CAPACITY", "many")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "LOCK_TIMEOUT")
	assert.Contains(t, msg, "SLOT_CAPACITY")
	assert.Contains(t, msg, "DATABASE_URL")
	assert.Contains(t, msg, "QUEUE_BACKEND")
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
