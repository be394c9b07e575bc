package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammadpnp/roster-import/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/roster")

	c, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
	assert.EqualValues(t, 2<<20, c.Import.MaxFileBytes)
	assert.Equal(t, 250, c.Import.MaxRows)
	assert.Equal(t, 30*time.Minute, c.Import.RollbackWindow)
	assert.Equal(t, "last-fired", c.Import.StatusPriority)
	assert.Equal(t, "postgres", c.Index.Backend)
	assert.Equal(t, logrus.InfoLevel, c.LogrusLogLevel())
	assert.Equal(t, ":8080", c.Address())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMPORT_MAX_ROWS=10\nIMPORT_ROLLBACK_WINDOW=5m\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("IMPORT_MAX_ROWS", "")
	os.Unsetenv("IMPORT_MAX_ROWS")
	t.Setenv("IMPORT_ROLLBACK_WINDOW", "")
	os.Unsetenv("IMPORT_ROLLBACK_WINDOW")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	c, err := config.Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 10, c.Import.MaxRows)
	assert.Equal(t, 5*time.Minute, c.Import.RollbackWindow)
	assert.Equal(t, logrus.DebugLevel, c.Logger().GetLevel())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("IMPORT_STATUS_PRIORITY", "newest")
	t.Setenv("INDEX_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")
	t.Setenv("IMPORT_MAX_ROWS", "0")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IMPORT_STATUS_PRIORITY")
	assert.Contains(t, err.Error(), "REDIS_URL is required")
	assert.Contains(t, err.Error(), "IMPORT_MAX_ROWS")
}
