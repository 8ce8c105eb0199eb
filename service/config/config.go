package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

var hexAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Chain configuration
	EthRPCURL       string
	ChainID         int64
	ContractAddress string

	// Wallet configuration. The private key is only needed by processes that
	// submit transactions (the API server and the CLI), not the worker.
	WalletPrivateKey string

	// Fallback wager limits (decimal ETH) used when the on-chain limit read
	// fails. These mirror the contract's deployed defaults.
	MinWagerFallback string
	MaxWagerFallback string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	HistoryPollInterval time.Duration
	MinPollInterval     time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Chain configuration
	cfg.EthRPCURL = os.Getenv("ETH_RPC_URL")
	if cfg.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("ETH_RPC_URL is required"))
	}

	chainID, err := parseInt64("CHAIN_ID", 0)
	if err != nil {
		errs = append(errs, err)
	} else if chainID == 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID is required"))
	} else {
		cfg.ChainID = chainID
	}

	cfg.ContractAddress = os.Getenv("COINFLIP_CONTRACT_ADDRESS")
	if cfg.ContractAddress == "" {
		errs = append(errs, fmt.Errorf("COINFLIP_CONTRACT_ADDRESS is required"))
	} else if !hexAddressRegex.MatchString(cfg.ContractAddress) {
		errs = append(errs, fmt.Errorf("COINFLIP_CONTRACT_ADDRESS must be a 0x-prefixed 20-byte hex address"))
	}

	// Wallet configuration (optional; validated by the wallet SDK when used)
	cfg.WalletPrivateKey = os.Getenv("WALLET_PRIVATE_KEY")

	// Fallback wager limits
	cfg.MinWagerFallback = getEnvOrDefault("MIN_WAGER_FALLBACK", "0.001")
	cfg.MaxWagerFallback = getEnvOrDefault("MAX_WAGER_FALLBACK", "0.1")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "coinflip-history-polling")

	// Polling configuration
	historyInterval, err := parseDuration("HISTORY_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.HistoryPollInterval = historyInterval
	}

	minInterval, err := parseDuration("MIN_POLL_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinPollInterval = minInterval
	}

	// Validate intervals
	if cfg.MinPollInterval > cfg.HistoryPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than HISTORY_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.HistoryPollInterval))
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

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("EthRPCURL is required"))
	}

	if c.ChainID == 0 {
		errs = append(errs, fmt.Errorf("ChainID is required"))
	}

	if c.ContractAddress == "" {
		errs = append(errs, fmt.Errorf("ContractAddress is required"))
	} else if !hexAddressRegex.MatchString(c.ContractAddress) {
		errs = append(errs, fmt.Errorf("ContractAddress must be a 0x-prefixed 20-byte hex address"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.HistoryPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than HistoryPollInterval"))
	}

	if c.HistoryPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("HistoryPollInterval must be at least 1 second"))
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

// parseInt64 parses an integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
