package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testTreasury = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func setValidEnv() {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	os.Setenv("TOKEN_MINT_ADDRESS", testMint)
	os.Setenv("TREASURY_ADDRESS", testTreasury)
}

func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "ADMIN_TOKEN",
		"DATABASE_URL", "NATS_URL",
		"SOLANA_RPC_URL", "TOKEN_MINT_ADDRESS", "TREASURY_ADDRESS", "TOKEN_DECIMALS",
		"RPC_MAX_ATTEMPTS", "SEND_MAX_ATTEMPTS", "CONFIRM_MAX_ATTEMPTS",
		"RETRY_BASE_DELAY", "RATE_LIMIT_BASE_DELAY", "MAX_RETRY_DELAY",
		"RPC_TIMEOUT", "SEND_TIMEOUT", "TRANSFER_TIMEOUT", "CONFIRM_POLL_INTERVAL",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setValidEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, testMint, cfg.TokenMintAddress)
	assert.Equal(t, testTreasury, cfg.TreasuryAddress)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, 6, cfg.TokenDecimals)    // Default
	assert.Equal(t, 5, cfg.RPCMaxAttempts)
	assert.Equal(t, 3, cfg.SendMaxAttempts)
	assert.Equal(t, 10, cfg.ConfirmMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, time.Second, cfg.RateLimitBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 30*time.Second, cfg.SendTimeout)
	assert.Equal(t, 2*time.Minute, cfg.TransferTimeout)
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
}

func TestLoad_MissingRequired(t *testing.T) {
	cases := []struct {
		name    string
		unset   string
		message string
	}{
		{"database", "DATABASE_URL", "DATABASE_URL is required"},
		{"rpc", "SOLANA_RPC_URL", "SOLANA_RPC_URL is required"},
		{"mint", "TOKEN_MINT_ADDRESS", "TOKEN_MINT_ADDRESS is required"},
		{"treasury", "TREASURY_ADDRESS", "TREASURY_ADDRESS is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setValidEnv()
			os.Unsetenv(tc.unset)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestLoad_InvalidMintAddress(t *testing.T) {
	setValidEnv()
	os.Setenv("TOKEN_MINT_ADDRESS", "not-a-base58-address")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "TokenMintAddress is not a valid address")
}

func TestLoad_InvalidDuration(t *testing.T) {
	setValidEnv()
	os.Setenv("TRANSFER_TIMEOUT", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_RetryOverrides(t *testing.T) {
	setValidEnv()
	os.Setenv("RPC_MAX_ATTEMPTS", "7")
	os.Setenv("RETRY_BASE_DELAY", "250ms")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RPCMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
}

func TestValidate_TransferTimeoutMustDominate(t *testing.T) {
	setValidEnv()
	os.Setenv("TRANSFER_TIMEOUT", "10s") // shorter than the 30s step timeouts
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "TransferTimeout")
}

func TestValidate_MaxDelayMustCoverBases(t *testing.T) {
	setValidEnv()
	os.Setenv("MAX_RETRY_DELAY", "100ms")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "MaxRetryDelay")
}

func TestValidate_MintAndTreasuryMustDiffer(t *testing.T) {
	setValidEnv()
	os.Setenv("TREASURY_ADDRESS", testMint)
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "must be different")
}
