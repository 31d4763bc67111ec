package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "CapVault"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSwapDeadline    = 5 * time.Minute
	defaultLockExpiry      = 60 * time.Second
	defaultUnitDecimals    = 6
	defaultKafkaTopic      = "capvault.events"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	KafkaBrokers    []string
	KafkaTopic      string
	Ethereum        EthereumConfig
	Vault           VaultConfig
}

// EthereumConfig selects the on-chain exchange and custody backends. When
// RPCURL is empty the service runs against the in-memory simulator.
type EthereumConfig struct {
	RPCURL        string
	CustodianKey  string
	ReceiptPoll   time.Duration
	GasLimitBoost uint64
}

// VaultConfig holds the creation parameters of the vault. They are read once
// at boot and never change for the lifetime of the process.
type VaultConfig struct {
	CapacityCeiling   *uint256.Int
	WithdrawalCeiling *uint256.Int
	ToleranceBps      uint64
	UnitAsset         common.Address
	UnitDecimals      int32
	BaseAsset         common.Address
	Exchange          common.Address
	Custodian         common.Address
	SwapDeadline      time.Duration
	LockExpiry        time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honoured when present;
// variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		Ethereum: EthereumConfig{
			RPCURL:       strings.TrimSpace(os.Getenv("ETH_RPC_URL")),
			CustodianKey: strings.TrimPrefix(strings.TrimSpace(os.Getenv("CUSTODIAN_PRIVATE_KEY")), "0x"),
			ReceiptPoll:  2 * time.Second,
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = durationFromEnv("ACCESS_TOKEN_TTL_SECONDS", "ACCESS_TOKEN_TTL", cfg.AccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = durationFromEnv("REFRESH_TOKEN_TTL_SECONDS", "REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.Ethereum.ReceiptPoll, err = durationFromEnv("ETH_RECEIPT_POLL_SECONDS", "ETH_RECEIPT_POLL", cfg.Ethereum.ReceiptPoll); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("ETH_GAS_LIMIT_BOOST_PERCENT"); v != "" {
		boost, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ETH_GAS_LIMIT_BOOST_PERCENT: %w", err)
		}
		cfg.Ethereum.GasLimitBoost = boost
	}

	if cfg.Vault, err = loadVault(); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return Config{}, fmt.Errorf("JWT_SECRET must be set")
		}
		cfg.JWTSecret = "dev-access-secret"
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.JWTSecret + ":refresh"
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	if cfg.Ethereum.RPCURL != "" && cfg.Ethereum.CustodianKey == "" {
		return Config{}, fmt.Errorf("CUSTODIAN_PRIVATE_KEY must be set when ETH_RPC_URL is configured")
	}

	return cfg, nil
}

func loadVault() (VaultConfig, error) {
	vc := VaultConfig{
		UnitDecimals: defaultUnitDecimals,
		SwapDeadline: defaultSwapDeadline,
		LockExpiry:   defaultLockExpiry,
	}

	var err error
	if vc.CapacityCeiling, err = amountFromEnv("VAULT_CAPACITY"); err != nil {
		return VaultConfig{}, err
	}
	if vc.WithdrawalCeiling, err = amountFromEnv("VAULT_WITHDRAWAL_CEILING"); err != nil {
		return VaultConfig{}, err
	}
	if v := os.Getenv("VAULT_TOLERANCE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return VaultConfig{}, fmt.Errorf("invalid VAULT_TOLERANCE_BPS: %w", err)
		}
		vc.ToleranceBps = bps
	}
	if v := os.Getenv("VAULT_UNIT_DECIMALS"); v != "" {
		decimals, err := strconv.ParseInt(v, 10, 32)
		if err != nil || decimals < 0 {
			return VaultConfig{}, fmt.Errorf("invalid VAULT_UNIT_DECIMALS: %q", v)
		}
		vc.UnitDecimals = int32(decimals)
	}
	if vc.UnitAsset, err = addressFromEnv("VAULT_UNIT_ASSET"); err != nil {
		return VaultConfig{}, err
	}
	if vc.BaseAsset, err = addressFromEnv("VAULT_BASE_ASSET"); err != nil {
		return VaultConfig{}, err
	}
	if vc.Exchange, err = addressFromEnv("VAULT_EXCHANGE"); err != nil {
		return VaultConfig{}, err
	}
	if vc.Custodian, err = addressFromEnv("VAULT_CUSTODIAN"); err != nil {
		return VaultConfig{}, err
	}
	if vc.SwapDeadline, err = durationFromEnv("VAULT_SWAP_DEADLINE_SECONDS", "VAULT_SWAP_DEADLINE", vc.SwapDeadline); err != nil {
		return VaultConfig{}, err
	}
	if vc.LockExpiry, err = durationFromEnv("VAULT_LOCK_EXPIRY_SECONDS", "VAULT_LOCK_EXPIRY", vc.LockExpiry); err != nil {
		return VaultConfig{}, err
	}
	return vc, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func amountFromEnv(key string) (*uint256.Int, error) {
	v := strings.ReplaceAll(strings.TrimSpace(os.Getenv(key)), "_", "")
	if v == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return amount, nil
}

func addressFromEnv(key string) (common.Address, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s: %q is not a hex address", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
