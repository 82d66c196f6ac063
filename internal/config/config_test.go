package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/boxyhq/dsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingDBDSN(t *testing.T) {
	// DB_DSN is only required when DB_DRIVER=postgres.
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "test-secret")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoad_SQLiteNoDBDSN(t *testing.T) {
	// With sqlite driver, DB_DSN is not required.
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "test-secret")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	// Clear optional vars to ensure defaults apply
	os.Unsetenv("HTTP_PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("LOG_FORMAT")
	os.Unsetenv("DB_DRIVER")
	os.Unsetenv("DB_FILE")
	os.Unsetenv("WEBHOOK_BATCH_ENABLED")
	os.Unsetenv("WEBHOOK_BATCH_SIZE")
	os.Unsetenv("WEBHOOK_INTERVAL")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "http://localhost:8080", cfg.HTTP.ExternalURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "dsync.db", cfg.DB.File)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, "admin@dsync.local", cfg.App.SeedAdminEmail)
	assert.True(t, cfg.Webhook.BatchEnabled)
	assert.Equal(t, 50, cfg.Webhook.BatchSize)
	assert.Equal(t, time.Minute, cfg.Webhook.Interval)
	assert.Equal(t, 90*time.Second, cfg.Webhook.LockTTL)
	assert.Equal(t, 3, cfg.Webhook.RetryAttempts)
	assert.Equal(t, time.Duration(0), cfg.Webhook.LogTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("EXTERNAL_URL", "https://dsync.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("WEBHOOK_BATCH_ENABLED", "false")
	t.Setenv("WEBHOOK_BATCH_SIZE", "25")
	t.Setenv("WEBHOOK_INTERVAL", "30s")
	t.Setenv("WEBHOOK_LOG_TTL", "168h")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "https://dsync.example.com", cfg.HTTP.ExternalURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Webhook.BatchEnabled)
	assert.Equal(t, 25, cfg.Webhook.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Webhook.Interval)
	assert.Equal(t, 168*time.Hour, cfg.Webhook.LogTTL)
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WEBHOOK_INTERVAL", "often")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_INTERVAL")
}
