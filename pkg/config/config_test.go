package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillerlabs/tiller/pkg/archive"
	"github.com/tillerlabs/tiller/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "STORE_BACKEND", "STATE_PATH", "SQLITE_PATH",
		"DATABASE_URL", "MANDATE_SECRET", "TOKEN_SECRET", "PROFILE_DIR",
		"GOVERNANCE_PROFILE", "SNAPSHOT_BACKEND", "SNAPSHOT_DIR",
		"SNAPSHOT_S3_BUCKET", "SNAPSHOT_S3_REGION", "SNAPSHOT_S3_ENDPOINT",
		"SNAPSHOT_S3_PREFIX", "SNAPSHOT_GCS_BUCKET", "SNAPSHOT_GCS_PREFIX",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REDIS_URL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, "data/tiller.json", cfg.StatePath)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.Empty(t, cfg.MandateSecret)
	assert.Empty(t, cfg.TokenSecret)
	assert.Equal(t, "profiles", cfg.ProfileDir)
	assert.Equal(t, archive.Backend(""), cfg.Snapshot.Backend)
	assert.Equal(t, float64(20), cfg.RateLimitRPS)
	assert.Equal(t, 40, cfg.RateLimitBurst)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://production:5432/tiller")
	t.Setenv("MANDATE_SECRET", "mandate-secret")
	t.Setenv("TOKEN_SECRET", "token-secret")
	t.Setenv("GOVERNANCE_PROFILE", "prod-eu")
	t.Setenv("SNAPSHOT_BACKEND", "s3")
	t.Setenv("SNAPSHOT_S3_BUCKET", "tiller-snapshots")
	t.Setenv("SNAPSHOT_S3_REGION", "eu-central-1")
	t.Setenv("RATE_LIMIT_RPS", "5.5")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "postgres://production:5432/tiller", cfg.DatabaseURL)
	assert.Equal(t, "mandate-secret", cfg.MandateSecret)
	assert.Equal(t, "token-secret", cfg.TokenSecret)
	assert.Equal(t, "prod-eu", cfg.ProfileCode)
	assert.Equal(t, archive.BackendS3, cfg.Snapshot.Backend)
	assert.Equal(t, "tiller-snapshots", cfg.Snapshot.S3.Bucket)
	assert.Equal(t, "eu-central-1", cfg.Snapshot.S3.Region)
	assert.Equal(t, 5.5, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPS", "many")

	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_RPS", "")
	t.Setenv("RATE_LIMIT_BURST", "lots")

	_, err = config.Load()
	assert.Error(t, err)
}
