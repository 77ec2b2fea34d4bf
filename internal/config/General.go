package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Operating modes. Sim wires the deterministic in-process venues; live mode
// is reserved for real venue adapters and refuses to start until they exist.
const (
	ModeSim  = "sim"
	ModeLive = "live"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the venue wiring ("sim" or "live").
	Mode string

	// FeeRecipient receives the protocol fee split off deposits and withdrawals.
	FeeRecipient string
	// FeeBps is the protocol fee in basis points (max 1000 = 10%).
	FeeBps uint32

	// KeeperIdentity is the caller identity the sweep loop rebalances with.
	KeeperIdentity string
	// KeeperIntervalSeconds is the pause between keeper sweeps.
	KeeperIntervalSeconds uint64
	// KeeperMaxBatch caps positions attempted per sweep; 0 disables the cap.
	KeeperMaxBatch uint64

	// MinTicksBetweenRebalances is the per-position cooldown.
	MinTicksBetweenRebalances uint64
	// MaxPriceAgeTicks rejects oracle quotes older than this; 0 disables.
	MaxPriceAgeTicks uint64
	// MinPriceMoveBps skips moves on price changes below this; 0 disables.
	MinPriceMoveBps uint32
	// UseConfidenceBand skips moves when the confidence interval straddles
	// a range boundary.
	UseConfidenceBand bool
	// SwapSlippageBps is the tolerance on the balancing swap's minimum out.
	SwapSlippageBps uint32

	// WebPort is the status API listen port.
	WebPort uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("REALLOCATOR_MODE")
	if err != nil {
		return err
	}
	if Mode != ModeSim && Mode != ModeLive {
		return errors.New("REALLOCATOR_MODE must be \"sim\" or \"live\", got: " + Mode)
	}

	FeeRecipient, err = getEnv("FEE_RECIPIENT")
	if err != nil {
		return err
	}

	FeeBps, err = getEnvAsUint32("FEE_BPS")
	if err != nil {
		return err
	}

	KeeperIdentity, err = getEnv("KEEPER_IDENTITY")
	if err != nil {
		return err
	}

	KeeperIntervalSeconds, err = getEnvAsUint64("KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	KeeperMaxBatch, err = getEnvAsUint64("KEEPER_MAX_BATCH")
	if err != nil {
		return err
	}

	MinTicksBetweenRebalances, err = getEnvAsUint64("MIN_TICKS_BETWEEN_REBALANCES")
	if err != nil {
		return err
	}

	MaxPriceAgeTicks, err = getEnvAsUint64("MAX_PRICE_AGE_TICKS")
	if err != nil {
		return err
	}

	MinPriceMoveBps, err = getEnvAsUint32("MIN_PRICE_MOVE_BPS")
	if err != nil {
		return err
	}

	UseConfidenceBand, err = getEnvAsBool("USE_CONFIDENCE_BAND")
	if err != nil {
		return err
	}

	SwapSlippageBps, err = getEnvAsUint32("SWAP_SLIPPAGE_BPS")
	if err != nil {
		return err
	}

	WebPort, err = getEnvAsUint64("WEB_PORT")
	if err != nil {
		return err
	}

	// Load database configuration
	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Uint32("FeeBps", FeeBps).
		Str("KeeperIdentity", KeeperIdentity).
		Uint64("KeeperIntervalSeconds", KeeperIntervalSeconds).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsUint32 retrieves an environment variable as a uint32. Returns error if not set or invalid.
func getEnvAsUint32(key string) (uint32, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 32)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint32, got: " + valueStr)
	}
	return uint32(value), nil
}

// getEnvAsBool retrieves an environment variable as a bool. Returns error if not set or invalid.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
