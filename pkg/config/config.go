// Package config holds daemon configuration: environment variables with safe
// defaults, plus an optional YAML scheduling profile for the policy knobs.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	LogLevel string

	// Store selection: "sqlite" (default) or "postgres".
	StoreDriver string
	SQLitePath  string
	PostgresURL string

	// Ledger
	EthereumRPC string
	SigningKey  string

	// Notifications
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NotifyPerMin  int

	// Observability
	OTLPEndpoint string
	OTelEnabled  bool
	Environment  string

	Scheduling SchedulingProfile
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		LogLevel:      envOr("LOG_LEVEL", "INFO"),
		StoreDriver:   envOr("STORE_DRIVER", "sqlite"),
		SQLitePath:    envOr("SQLITE_PATH", "pulse.db"),
		PostgresURL:   os.Getenv("POSTGRES_URL"),
		EthereumRPC:   envOr("ETH_RPC_URL", "http://localhost:8545"),
		SigningKey:    os.Getenv("ETH_SIGNING_KEY"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		NotifyPerMin:  envInt("NOTIFY_PER_MINUTE", 30),
		OTLPEndpoint:  envOr("OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		Environment:   envOr("ENVIRONMENT", "development"),
		Scheduling:    DefaultSchedulingProfile(),
	}
	return cfg
}

func envOr(key, def string) string {
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

// SchedulingProfile holds the scheduling policy knobs.
type SchedulingProfile struct {
	// PollInterval is the default condition-trigger poll cadence.
	PollInterval time.Duration
	// BackoffCap bounds retry backoff growth.
	BackoffCap time.Duration
	// BackoffJitter bounds the jitter added to each retry delay.
	BackoffJitter time.Duration
	// SweepInterval is the proposal expiry sweep cadence.
	SweepInterval time.Duration
	// PaymentBatchInterval is the due-payment batch scan cadence.
	PaymentBatchInterval time.Duration
}

// DefaultSchedulingProfile returns production defaults.
func DefaultSchedulingProfile() SchedulingProfile {
	return SchedulingProfile{
		PollInterval:         60 * time.Second,
		BackoffCap:           24 * time.Hour,
		BackoffJitter:        30 * time.Second,
		SweepInterval:        60 * time.Second,
		PaymentBatchInterval: 60 * time.Second,
	}
}
