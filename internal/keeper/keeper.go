package keeper

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keeperlabs/reallocator/internal/engine"
	"github.com/keeperlabs/reallocator/internal/logger"
	"github.com/keeperlabs/reallocator/internal/policy"
	"github.com/keeperlabs/reallocator/internal/state"
	"github.com/keeperlabs/reallocator/internal/types"
	"github.com/keeperlabs/reallocator/internal/utils"
)

var zeroPrice = sdkmath.ZeroInt()

// Persister records sweep outcomes. The database-backed implementation is the
// default; tests swap in a no-op.
type Persister interface {
	IncrementSweepNumber() (int, error)
	SaveRebalanceReceipt(types.RebalanceReceipt) (int64, error)
	SaveSweepSnapshot(types.SweepSnapshot) (int64, error)
	UpsertPosition(types.Position) error
	SaveProtocolConfig(types.ProtocolConfig) error
}

// DBPersister persists sweeps through the state package's global pool.
type DBPersister struct{}

func (DBPersister) IncrementSweepNumber() (int, error) { return state.IncrementSweepNumber() }
func (DBPersister) SaveRebalanceReceipt(r types.RebalanceReceipt) (int64, error) {
	return state.SaveRebalanceReceipt(r)
}
func (DBPersister) SaveSweepSnapshot(s types.SweepSnapshot) (int64, error) {
	return state.SaveSweepSnapshot(s)
}
func (DBPersister) UpsertPosition(p types.Position) error { return state.UpsertPosition(p) }
func (DBPersister) SaveProtocolConfig(c types.ProtocolConfig) error {
	return state.SaveProtocolConfig(c)
}

// Keeper drives periodic rebalance sweeps over every open position.
type Keeper struct {
	logger   zerolog.Logger
	engine   *engine.Engine
	identity string
	persist  Persister

	// MaxBatchSize caps positions attempted per sweep; 0 means no cap.
	maxBatchSize int

	sweepCount int
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	Engine       *engine.Engine
	Identity     string
	Persister    Persister
	MaxBatchSize int
}

// New creates a Keeper with dependency injection.
func New(cfg Config) (*Keeper, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("keeper identity cannot be empty")
	}
	if cfg.Persister == nil {
		return nil, fmt.Errorf("persister cannot be nil")
	}
	if cfg.MaxBatchSize < 0 {
		return nil, fmt.Errorf("max batch size cannot be negative")
	}

	k := &Keeper{
		logger:       logger.GetForComponent("keeper"),
		engine:       cfg.Engine,
		identity:     cfg.Identity,
		persist:      cfg.Persister,
		maxBatchSize: cfg.MaxBatchSize,
	}

	k.logger.Info().
		Str("identity", k.identity).
		Int("maxBatchSize", k.maxBatchSize).
		Msg("Keeper instance created")

	return k, nil
}

// RunLoop starts the sweep loop with the specified interval. The first sweep
// runs immediately.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper sweep loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.sweepCount++
	k.RunSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.sweepCount++
			k.RunSweep(ctx)
		}
	}
}

// RunSweep rebalances every open position once. Each position appears at
// most once per sweep, failures are isolated to their position, and the
// whole pass is summarized in a persisted sweep snapshot.
func (k *Keeper) RunSweep(ctx context.Context) types.SweepSnapshot {
	sweepStartTime := time.Now()

	// Unique sweep ID for tracing logs across the entire pass.
	sweepID := uuid.New().String()
	sweepLogger := k.logger.With().Str("sweep_id", sweepID).Logger()

	sweepLogger.Info().Msg("--- Starting keeper sweep ---")

	sweepNumber, err := k.persist.IncrementSweepNumber()
	if err != nil {
		sweepLogger.Error().Err(err).Msg("Failed to increment sweep counter, using in-process count")
		sweepNumber = k.sweepCount
	}

	snapshot := types.SweepSnapshot{
		SweepNumber: sweepNumber,
		SweepID:     sweepID,
		Timestamp:   sweepStartTime,
		Receipts:    make([]types.RebalanceReceipt, 0),
	}

	positions := k.engine.Positions()
	if k.maxBatchSize > 0 && len(positions) > k.maxBatchSize {
		sweepLogger.Warn().
			Int("open", len(positions)).
			Int("batch", k.maxBatchSize).
			Msg("Open positions exceed batch size, remainder deferred to next sweep")
		positions = positions[:k.maxBatchSize]
	}

	for _, pos := range positions {
		select {
		case <-ctx.Done():
			sweepLogger.Warn().Msg("Sweep interrupted by context cancellation")
			k.finalizeSweep(&snapshot, sweepLogger, sweepStartTime)
			return snapshot
		default:
		}

		receipt := k.rebalanceOne(pos.Key(), sweepID, sweepLogger)
		snapshot.Receipts = append(snapshot.Receipts, receipt)
		snapshot.PositionsSeen++
		switch {
		case !receipt.Success:
			snapshot.Failures++
		case receipt.Reason == engine.ReasonRebalanced:
			snapshot.PositionsMoved++
		default:
			snapshot.PositionsUnchanged++
		}
	}

	k.finalizeSweep(&snapshot, sweepLogger, sweepStartTime)
	return snapshot
}

// rebalanceOne runs a single position's rebalance and persists the receipt
// and, on a committed move, the updated position and protocol rows.
func (k *Keeper) rebalanceOne(key types.PositionKey, sweepID string, sweepLogger zerolog.Logger) types.RebalanceReceipt {
	receipt := types.RebalanceReceipt{
		SweepID:   sweepID,
		Key:       key,
		Timestamp: time.Now(),
	}

	outcome, err := k.engine.Rebalance(k.identity, key)
	if err == nil && outcome.Reason == engine.ReasonRebalanced {
		sweepLogger.Info().
			Str("position", key.String()).
			Str("decision", outcome.Decision.String()).
			Float64("priceUsd", utils.PriceToDisplayUSD(outcome.Price)).
			Msg("Position moved")
	}
	if err != nil {
		receipt.Success = false
		receipt.Decision = policy.NoAction.String()
		receipt.Message = err.Error()
		receipt.Price = outcome.Price
		sweepLogger.Error().Err(err).Str("position", key.String()).Msg("Rebalance attempt failed")
	} else {
		receipt.Success = true
		receipt.Decision = outcome.Decision.String()
		receipt.Reason = outcome.Reason
		receipt.Price = outcome.Price
		receipt.Tick = outcome.Tick

		if outcome.Reason == engine.ReasonRebalanced {
			if pos, err := k.engine.Position(key); err == nil {
				if err := k.persist.UpsertPosition(pos); err != nil {
					sweepLogger.Error().Err(err).Str("position", key.String()).Msg("Failed to persist rebalanced position")
				}
			}
			if err := k.persist.SaveProtocolConfig(k.engine.Protocol()); err != nil {
				sweepLogger.Error().Err(err).Msg("Failed to persist protocol config")
			}
		}
	}

	if receipt.Price.IsNil() {
		receipt.Price = zeroPrice
	}

	if _, err := k.persist.SaveRebalanceReceipt(receipt); err != nil {
		sweepLogger.Error().Err(err).Str("position", key.String()).Msg("Failed to persist rebalance receipt")
	}
	return receipt
}

func (k *Keeper) finalizeSweep(snapshot *types.SweepSnapshot, sweepLogger zerolog.Logger, start time.Time) {
	if _, err := k.persist.SaveSweepSnapshot(*snapshot); err != nil {
		sweepLogger.Error().Err(err).Msg("Failed to persist sweep snapshot")
	}

	sweepLogger.Info().
		Int("sweepNumber", snapshot.SweepNumber).
		Int("seen", snapshot.PositionsSeen).
		Int("moved", snapshot.PositionsMoved).
		Int("unchanged", snapshot.PositionsUnchanged).
		Int("failures", snapshot.Failures).
		Dur("elapsed", time.Since(start)).
		Msg("--- Keeper sweep completed ---")
}
