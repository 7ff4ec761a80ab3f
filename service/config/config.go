package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment
// variables. All required fields are validated at startup to ensure
// fail-fast behavior; components receive the struct explicitly instead of
// reading the environment themselves.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// AdminToken guards catalog mutations. Empty disables the admin routes.
	AdminToken string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL     string
	TokenMintAddress string
	TreasuryAddress  string
	TokenDecimals    int

	// Retry tuning
	RPCMaxAttempts     int
	SendMaxAttempts    int
	RetryBaseDelay     time.Duration
	RateLimitBaseDelay time.Duration
	MaxRetryDelay      time.Duration

	// Timeout tuning
	RPCTimeout          time.Duration
	SendTimeout         time.Duration
	TransferTimeout     time.Duration
	ConfirmPollInterval time.Duration
	ConfirmMaxAttempts  int
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any required configuration is missing
// or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.TokenMintAddress = os.Getenv("TOKEN_MINT_ADDRESS")
	if cfg.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required"))
	}

	cfg.TreasuryAddress = os.Getenv("TREASURY_ADDRESS")
	if cfg.TreasuryAddress == "" {
		errs = append(errs, fmt.Errorf("TREASURY_ADDRESS is required"))
	}

	var err error
	cfg.TokenDecimals, err = parseInt("TOKEN_DECIMALS", 6)
	if err != nil {
		errs = append(errs, err)
	}

	cfg.RPCMaxAttempts, err = parseInt("RPC_MAX_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SendMaxAttempts, err = parseInt("SEND_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ConfirmMaxAttempts, err = parseInt("CONFIRM_MAX_ATTEMPTS", 10)
	if err != nil {
		errs = append(errs, err)
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"RETRY_BASE_DELAY", "500ms", &cfg.RetryBaseDelay},
		{"RATE_LIMIT_BASE_DELAY", "1s", &cfg.RateLimitBaseDelay},
		{"MAX_RETRY_DELAY", "30s", &cfg.MaxRetryDelay},
		{"RPC_TIMEOUT", "30s", &cfg.RPCTimeout},
		{"SEND_TIMEOUT", "30s", &cfg.SendTimeout},
		{"TRANSFER_TIMEOUT", "2m", &cfg.TransferTimeout},
		{"CONFIRM_POLL_INTERVAL", "2s", &cfg.ConfirmPollInterval},
	} {
		parsed, err := parseDuration(d.key, d.fallback)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = parsed
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
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
	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TokenMintAddress is required"))
	} else if _, err := solanago.PublicKeyFromBase58(c.TokenMintAddress); err != nil {
		errs = append(errs, fmt.Errorf("TokenMintAddress is not a valid address: %w", err))
	}

	if c.TreasuryAddress == "" {
		errs = append(errs, fmt.Errorf("TreasuryAddress is required"))
	} else if _, err := solanago.PublicKeyFromBase58(c.TreasuryAddress); err != nil {
		errs = append(errs, fmt.Errorf("TreasuryAddress is not a valid address: %w", err))
	}

	if c.TokenMintAddress != "" && c.TokenMintAddress == c.TreasuryAddress {
		errs = append(errs, fmt.Errorf("TokenMintAddress and TreasuryAddress must be different"))
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 18 {
		errs = append(errs, fmt.Errorf("TokenDecimals must be between 0 and 18"))
	}

	if c.RPCMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxAttempts must be at least 1"))
	}
	if c.SendMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("SendMaxAttempts must be at least 1"))
	}
	if c.ConfirmMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("ConfirmMaxAttempts must be at least 1"))
	}

	if c.MaxRetryDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("MaxRetryDelay (%v) cannot be less than RetryBaseDelay (%v)",
			c.MaxRetryDelay, c.RetryBaseDelay))
	}
	if c.MaxRetryDelay < c.RateLimitBaseDelay {
		errs = append(errs, fmt.Errorf("MaxRetryDelay (%v) cannot be less than RateLimitBaseDelay (%v)",
			c.MaxRetryDelay, c.RateLimitBaseDelay))
	}

	// The overall flow timeout must dominate every step timeout, otherwise a
	// step could outlive the flow that started it.
	if c.TransferTimeout < c.RPCTimeout || c.TransferTimeout < c.SendTimeout {
		errs = append(errs, fmt.Errorf("TransferTimeout (%v) must be at least as long as RPCTimeout and SendTimeout",
			c.TransferTimeout))
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

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
