package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// History backends understood by db.Open.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Solana RPC configuration. RPCURLs is an ordered fallback list: the
	// balance fetcher tries them front to back.
	RPCURLs          []string
	RPCTimeout       time.Duration
	ProxyUpstreamURL string
	ExplorerCluster  string

	// Session background work
	BalancePollInterval time.Duration
	WalletCheckInterval time.Duration

	// History persistence
	HistoryBackend string
	HistoryPath    string
	DatabaseURL    string
	RedisURL       string

	// NATS configuration (empty disables event publishing)
	NATSURL string

	// Dev wallet: a Solana CLI keypair exposed as an injected wallet
	DevKeypairPath string
	DevWalletKind  string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Solana RPC configuration
	cfg.RPCURLs = parseList("SOLANA_RPC_URLS")
	if len(cfg.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}

	rpcTimeout, err := parseDuration("RPC_TIMEOUT", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCTimeout = rpcTimeout
	}

	cfg.ProxyUpstreamURL = os.Getenv("PROXY_UPSTREAM_URL")
	if cfg.ProxyUpstreamURL == "" && len(cfg.RPCURLs) > 0 {
		cfg.ProxyUpstreamURL = cfg.RPCURLs[0]
	}
	cfg.ExplorerCluster = getEnvOrDefault("EXPLORER_CLUSTER", "mainnet-beta")

	// Session background work
	pollInterval, err := parseDuration("BALANCE_POLL_INTERVAL", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalancePollInterval = pollInterval
	}

	checkInterval, err := parseDuration("WALLET_CHECK_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WalletCheckInterval = checkInterval
	}

	// History persistence
	cfg.HistoryBackend = getEnvOrDefault("HISTORY_BACKEND", BackendBadger)
	cfg.HistoryPath = getEnvOrDefault("HISTORY_PATH", "./data/history")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.HistoryBackend {
	case BackendBadger, BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when HISTORY_BACKEND=postgres"))
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required when HISTORY_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND: unknown backend %q", cfg.HistoryBackend))
	}

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Dev wallet
	cfg.DevKeypairPath = os.Getenv("DEV_KEYPAIR_PATH")
	cfg.DevWalletKind = getEnvOrDefault("DEV_WALLET_KIND", "phantom")

	if cfg.BalancePollInterval > 0 && cfg.BalancePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("BALANCE_POLL_INTERVAL must be at least 1 second"))
	}
	if cfg.WalletCheckInterval > 0 && cfg.WalletCheckInterval < time.Second {
		errs = append(errs, fmt.Errorf("WALLET_CHECK_INTERVAL must be at least 1 second"))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("RPCURLs is required"))
	}

	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCTimeout must be positive"))
	}

	if c.BalancePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("BalancePollInterval must be at least 1 second"))
	}

	if c.WalletCheckInterval < time.Second {
		errs = append(errs, fmt.Errorf("WalletCheckInterval must be at least 1 second"))
	}

	switch c.HistoryBackend {
	case BackendBadger:
		if c.HistoryPath == "" {
			errs = append(errs, fmt.Errorf("HistoryPath is required for the badger backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DatabaseURL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("RedisURL is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown HistoryBackend %q", c.HistoryBackend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseList splits a comma-separated environment variable, preserving order
// and dropping blank entries.
func parseList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
