// Package config loads all runtime configuration from environment variables.
// No config files and no third-party config framework are used.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the directory sync service.
type Config struct {
	HTTP    HTTPConfig
	DB      DBConfig
	Log     LogConfig
	JWT     JWTConfig
	App     AppConfig
	Webhook WebhookConfig
	OTel    OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
	// ExternalURL is the public base URL used to derive per-directory
	// SCIM endpoints, e.g. "https://dsync.example.com".
	ExternalURL string
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "dsync.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig holds admin API token signing and expiry settings.
type JWTConfig struct {
	Secret    string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	AccessTTL time.Duration
}

// AppConfig holds application-level settings such as seed admin credentials.
type AppConfig struct {
	SeedAdminEmail    string
	SeedAdminPassword string
}

// WebhookConfig controls webhook event delivery.
type WebhookConfig struct {
	// BatchEnabled selects queued batch delivery; when false every mutation
	// is delivered inline, synchronously with the SCIM request pipeline.
	BatchEnabled bool
	// BatchSize bounds how many queued events one drain iteration fetches.
	BatchSize int
	// Interval is how often the batch processor wakes up.
	Interval time.Duration
	// LockTTL is the lifetime of the cross-process batch lock record.
	LockTTL time.Duration
	// RetryAttempts and RetryDelay apply to inline delivery only; queued
	// events are retried on the next drain cycle instead.
	RetryAttempts int
	RetryDelay    time.Duration
	// Timeout is applied to every outbound webhook POST.
	Timeout time.Duration
	// LogTTL is the retention period for webhook event log rows.
	// Zero means keep forever.
	LogTTL time.Duration
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applies defaults,
// and returns an error if any required field is absent.
func Load() (*Config, error) {
	cfg := &Config{}

	// HTTP
	cfg.HTTP.Port = envInt("HTTP_PORT", 8080)
	cfg.HTTP.ExternalURL = envStr("EXTERNAL_URL", fmt.Sprintf("http://localhost:%d", cfg.HTTP.Port))

	// DB
	cfg.DB.Driver = envStr("DB_DRIVER", "sqlite")
	cfg.DB.File = envStr("DB_FILE", "dsync.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		return nil, errors.New("DB_DSN is required when DB_DRIVER=postgres")
	}
	cfg.DB.MaxConns = envInt("DB_MAX_CONNS", 25)

	// Log
	cfg.Log.Level = envStr("LOG_LEVEL", "info")
	cfg.Log.Format = envStr("LOG_FORMAT", "json")

	// JWT (required)
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	var err error
	cfg.JWT.AccessTTL, err = envDuration("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}

	// App
	cfg.App.SeedAdminEmail = envStr("SEED_ADMIN_EMAIL", "admin@dsync.local")
	cfg.App.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")

	// Webhook delivery
	cfg.Webhook.BatchEnabled = envBool("WEBHOOK_BATCH_ENABLED", true)
	cfg.Webhook.BatchSize = envInt("WEBHOOK_BATCH_SIZE", 50)
	cfg.Webhook.Interval, err = envDuration("WEBHOOK_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_INTERVAL: %w", err)
	}
	cfg.Webhook.LockTTL, err = envDuration("WEBHOOK_LOCK_TTL", 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_LOCK_TTL: %w", err)
	}
	cfg.Webhook.RetryAttempts = envInt("WEBHOOK_RETRY_ATTEMPTS", 3)
	cfg.Webhook.RetryDelay, err = envDuration("WEBHOOK_RETRY_DELAY", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_RETRY_DELAY: %w", err)
	}
	cfg.Webhook.Timeout, err = envDuration("WEBHOOK_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_TIMEOUT: %w", err)
	}
	cfg.Webhook.LogTTL, err = envDuration("WEBHOOK_LOG_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_LOG_TTL: %w", err)
	}

	// OTel
	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
