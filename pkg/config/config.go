// Package config loads server configuration from the environment and
// governance profiles from YAML. Profiles carry the operator-tunable
// governance posture; everything else is 12-factor environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/tillerlabs/tiller/pkg/archive"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// Persistence. StoreBackend is one of memory, file, sqlite, postgres.
	StoreBackend string
	StatePath    string
	SQLitePath   string
	DatabaseURL  string

	// Shared secrets. Empty values keep the server from starting in
	// server mode; offline subcommands run without them.
	MandateSecret string
	TokenSecret   string

	// Governance profile selection.
	ProfileDir  string
	ProfileCode string

	Snapshot archive.Config

	RateLimitRPS   float64
	RateLimitBurst int
	RedisURL       string

	OTLPEndpoint string
}

// Load reads configuration from environment variables. Unset variables get
// development defaults; malformed numeric values are errors, never silently
// replaced.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           "8080",
		LogLevel:       "INFO",
		StoreBackend:   "file",
		StatePath:      "data/tiller.json",
		SQLitePath:     "data/tiller.db",
		DatabaseURL:    "postgres://tiller@localhost:5432/tiller?sslmode=disable",
		ProfileDir:     "profiles",
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	cfg.MandateSecret = os.Getenv("MANDATE_SECRET")
	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")

	if v := os.Getenv("PROFILE_DIR"); v != "" {
		cfg.ProfileDir = v
	}
	cfg.ProfileCode = os.Getenv("GOVERNANCE_PROFILE")

	cfg.Snapshot = archive.Config{
		Backend: archive.Backend(os.Getenv("SNAPSHOT_BACKEND")),
		Dir:     os.Getenv("SNAPSHOT_DIR"),
		S3: archive.S3Config{
			Bucket:   os.Getenv("SNAPSHOT_S3_BUCKET"),
			Region:   os.Getenv("SNAPSHOT_S3_REGION"),
			Endpoint: os.Getenv("SNAPSHOT_S3_ENDPOINT"),
			Prefix:   os.Getenv("SNAPSHOT_S3_PREFIX"),
		},
		GCS: archive.GCSConfig{
			Bucket: os.Getenv("SNAPSHOT_GCS_BUCKET"),
			Prefix: os.Getenv("SNAPSHOT_GCS_PREFIX"),
		},
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("config: RATE_LIMIT_RPS %q: %w", v, err)
		}
		cfg.RateLimitRPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: RATE_LIMIT_BURST %q: %w", v, err)
		}
		cfg.RateLimitBurst = n
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}
