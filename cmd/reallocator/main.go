package main

import (
	"context"
	"os"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/keeperlabs/reallocator/internal/config"
	"github.com/keeperlabs/reallocator/internal/engine"
	"github.com/keeperlabs/reallocator/internal/keeper"
	"github.com/keeperlabs/reallocator/internal/logger"
	"github.com/keeperlabs/reallocator/internal/pricing"
	"github.com/keeperlabs/reallocator/internal/state"
	"github.com/keeperlabs/reallocator/internal/types"
	"github.com/keeperlabs/reallocator/internal/venue"
	"github.com/keeperlabs/reallocator/internal/web"
)

// main is the entry point for the rebalancing decision engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Reallocator Core Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load or create the protocol config singleton
	protocol, found, err := state.LoadProtocolConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load protocol config")
	}
	var restored *types.ProtocolConfig
	if found {
		log.Info().Uint32("feeBps", protocol.FeeBps).Msg("Protocol config loaded from database")
		restored = &protocol
	}

	// --- 2. Venue Initialization (with Safety Switch) ---
	if config.Mode != config.ModeSim {
		log.Fatal().Msg("REALLOCATOR_MODE is not set to 'sim'. Live venue adapters are not wired yet; halting to prevent accidental execution.")
	}
	log.Info().Msg("Initializing deterministic simulation venues")

	clock := venue.NewSimClock(uint64(time.Now().Unix()))
	oracle := venue.NewSimOracle(clock, simInitialPrice(), sdkmath.ZeroInt())
	venues := venue.NewSimVenues(oracle)

	// --- 3. Create Engine Instance with Dependency Injection ---
	engineConfig := engine.Config{
		Protocol:     restored,
		FeeBps:       config.FeeBps,
		FeeRecipient: config.FeeRecipient,
		Keeper:       config.KeeperIdentity,
		Oracle:       oracle,
		Liquidity:    venues,
		Lending:      venues,
		Swapper:      venues,
		Clock:        clock,
		Params: engine.Params{
			MinTicksBetweenRebalances: config.MinTicksBetweenRebalances,
			MaxPriceAgeTicks:          config.MaxPriceAgeTicks,
			MinPriceMoveBps:           config.MinPriceMoveBps,
			UseConfidenceBand:         config.UseConfidenceBand,
			SwapSlippageBps:           config.SwapSlippageBps,
		},
	}

	eng, err := engine.New(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	// Restore users and positions from persistence
	users, err := state.LoadAllUserAccounts()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load user accounts")
	}
	positions, err := state.LoadAllPositions()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load positions")
	}
	if err := eng.LoadState(users, positions); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore engine state")
	}

	// Persist the protocol config on first start
	if !found {
		if err := state.SaveProtocolConfig(eng.Protocol()); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial protocol config")
		}
		log.Info().Msg("Initial protocol config saved")
	}

	// --- Start Web Server ---
	webPort := strconv.FormatUint(config.WebPort, 10)
	webServer := web.NewWebServer(webPort, eng)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting status API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Start Keeper Sweep Loop ---
	keeperInstance, err := keeper.New(keeper.Config{
		Engine:       eng,
		Identity:     config.KeeperIdentity,
		Persister:    keeper.DBPersister{},
		MaxBatchSize: int(config.KeeperMaxBatch),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper instance")
	}

	interval := time.Duration(config.KeeperIntervalSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting keeper sweep loop")

	ctx := context.Background()
	keeperInstance.RunLoop(ctx, interval)
}

// simInitialPrice reads the optional SIM_INITIAL_PRICE override (micro-USD),
// defaulting to $1.00.
func simInitialPrice() sdkmath.Int {
	if raw := os.Getenv("SIM_INITIAL_PRICE"); raw != "" {
		if v, ok := sdkmath.NewIntFromString(raw); ok && v.IsPositive() {
			return v
		}
		log.Warn().Str("SIM_INITIAL_PRICE", raw).Msg("Ignoring invalid SIM_INITIAL_PRICE")
	}
	return sdkmath.NewInt(pricing.PriceScale)
}
