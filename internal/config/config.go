// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds the ledger service configuration.
type Config struct {
	Environment string
	Addr        string

	StoreBackend string
	DatabaseURL  string
	SQLitePath   string

	RedisAddr            string
	RateLimitCapacity    int
	RateLimitRefillPerSec float64

	KafkaBrokers []string
	KafkaTopic   string

	IPAllowlist  []string
	MaxBodyBytes int64

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:           getenv("APP_ENV", "development"),
		Addr:                  getenv("SERVER_ADDR", ":8080"),
		StoreBackend:          getenv("STORE_BACKEND", BackendPostgres),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SQLitePath:            getenv("SQLITE_PATH", "ledger.db"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RateLimitCapacity:     getenvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefillPerSec: float64(getenvInt("RATE_LIMIT_REFILL_PER_SEC", 10)),
		KafkaTopic:            getenv("KAFKA_TOPIC", "transaction_completed"),
		MaxBodyBytes:          int64(getenvInt("MAX_BODY_BYTES", 1<<20)),
		TLSCertFile:           os.Getenv("TLS_CERT"),
		TLSKeyFile:            os.Getenv("TLS_KEY"),
		TLSCAFile:             os.Getenv("TLS_CA"),
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitNonEmpty(v)
	}
	if v := os.Getenv("IP_ALLOWLIST"); v != "" {
		cfg.IPAllowlist = splitNonEmpty(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend selection and its prerequisites.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing required environment variable: DATABASE_URL")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing required environment variable: SQLITE_PATH")
		}
	case BackendMemory:
		if c.Environment == "production" {
			return errors.New("memory store backend is not allowed in production")
		}
	default:
		return errors.New("STORE_BACKEND must be one of: postgres, sqlite, memory")
	}

	// TLS material comes as a complete set or not at all.
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("TLS_CERT and TLS_KEY must be set together")
	}

	return nil
}

// TLSEnabled reports whether the listener should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
