// Package config loads the feature store's tunables from environment
// variables (optionally via a .env file), following the same
// getEnv/getEnvAsX helper pattern used across the wider codebase this
// service was split out of.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob spec.md §6 lists, plus
// the ambient wiring this service needs (HTTP port, log level, SQLite
// path, upstream rate limit).
type Config struct {
	Port     int    // HTTP server port
	LogLevel string // zerolog level name: debug, info, warn, error
	DevMode  bool   // pretty console logging instead of JSON

	L2Path          string // SQLite database file for the L2 tier
	L2RetryBufSize  int    // l2_retry_buffer_size
	PendingComputeN int    // pending_compute_buffer
	ComputePoolSize int    // compute_pool_size, 0 = runtime.NumCPU()

	TTLIntraday         time.Duration // ttl_intraday
	TTLDaily            time.Duration // ttl_daily
	TTLStaticMax        time.Duration // ttl_static_max
	AbsentTTLFraction   float64       // absent_ttl_fraction
	SingleflightLockTTL time.Duration // singleflight_lock_ttl
	SingleflightPollDL  time.Duration // singleflight_poll_deadline

	UpstreamMaxRPS float64 // raw-data provider rate limit

	AlphaVantageAPIKey string // when set, FetchBars is backed by the real Alpha Vantage API instead of the synthetic fake

	WarmTickers      []string // watchlist for the opportunistic warm sweep
	WarmFeatureNames []string
}

// Load reads configuration from the environment, applying a .env file
// first if one is present (ignored if missing, same as the rest of
// this codebase's config loaders).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("FEATURESTORE_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		L2Path:          getEnv("FEATURESTORE_L2_PATH", "featurestore.db"),
		L2RetryBufSize:  getEnvAsInt("FEATURESTORE_L2_RETRY_BUFFER_SIZE", 10_000),
		PendingComputeN: getEnvAsInt("FEATURESTORE_PENDING_COMPUTE_BUFFER", 256),
		ComputePoolSize: getEnvAsInt("FEATURESTORE_COMPUTE_POOL_SIZE", 0),

		TTLIntraday:         getEnvAsDuration("FEATURESTORE_TTL_INTRADAY", 60*time.Second),
		TTLDaily:            getEnvAsDuration("FEATURESTORE_TTL_DAILY", 24*time.Hour),
		TTLStaticMax:        getEnvAsDuration("FEATURESTORE_TTL_STATIC_MAX", 7*24*time.Hour),
		AbsentTTLFraction:   getEnvAsFloat("FEATURESTORE_ABSENT_TTL_FRACTION", 0.1),
		SingleflightLockTTL: getEnvAsDuration("FEATURESTORE_SINGLEFLIGHT_LOCK_TTL", 30*time.Second),
		SingleflightPollDL:  getEnvAsDuration("FEATURESTORE_SINGLEFLIGHT_POLL_DEADLINE", 30*time.Second),

		UpstreamMaxRPS: getEnvAsFloat("FEATURESTORE_UPSTREAM_MAX_RPS", 20),

		AlphaVantageAPIKey: getEnv("FEATURESTORE_ALPHAVANTAGE_API_KEY", ""),

		WarmTickers:      getEnvAsList("FEATURESTORE_WARM_TICKERS", nil),
		WarmFeatureNames: getEnvAsList("FEATURESTORE_WARM_FEATURES", nil),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave silently
// rather than fail fast at startup.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.AbsentTTLFraction <= 0 || c.AbsentTTLFraction > 1 {
		return fmt.Errorf("config: absent_ttl_fraction must be in (0, 1], got %v", c.AbsentTTLFraction)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable into a
// trimmed, non-empty slice of entries, or returns defaultValue if
// unset.
func getEnvAsList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, tok := range strings.Split(v, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
