/*

This file contains the position lifecycle manager: creation, deposit,
withdraw, pause/resume and close, with all-or-nothing failure semantics.
Rebalancing lives in rebalance.go.

*/

package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/keeperlabs/reallocator/internal/fees"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/logger"
	"github.com/keeperlabs/reallocator/internal/types"
	"github.com/keeperlabs/reallocator/internal/venue"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPriceRange  = errors.New("invalid price range: min must be less than max")
	ErrInvalidSequence    = errors.New("position ID does not match the user's next sequence number")
	ErrInvalidPercentage  = errors.New("percentage must be between 1 and 100")
	ErrPositionNotFound   = errors.New("position not found or already closed")
	ErrPositionNotEmpty   = errors.New("position not empty: withdraw all funds before closing")
	ErrPositionPaused     = errors.New("position is paused")
	ErrUnauthorized       = errors.New("caller is not authorized for this position")
	ErrExternalCallFailed = errors.New("external venue call failed")
	ErrInvalidConfig      = errors.New("engine configuration is invalid")
)

// Clock supplies the logical time (e.g. block height or unix seconds) the
// cooldown and staleness checks run on.
type Clock interface {
	Now() uint64
}

// SystemClock ticks in unix seconds.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// Params holds the tunable thresholds of the rebalance path.
type Params struct {
	// MinTicksBetweenRebalances is the per-position rebalance cooldown.
	MinTicksBetweenRebalances uint64 `json:"min_ticks_between_rebalances"`

	// MaxPriceAgeTicks rejects oracle quotes older than this; 0 disables
	// the staleness gate.
	MaxPriceAgeTicks uint64 `json:"max_price_age_ticks"`

	// MinPriceMoveBps skips rebalances when the price has moved less than
	// this many basis points since the last one; 0 disables.
	MinPriceMoveBps uint32 `json:"min_price_move_bps"`

	// UseConfidenceBand skips rebalances when the confidence interval
	// straddles a range boundary.
	UseConfidenceBand bool `json:"use_confidence_band"`

	// SwapSlippageBps is the tolerance applied to the balancing swap's
	// expected output when computing the aggregator's minimum out.
	SwapSlippageBps uint32 `json:"swap_slippage_bps"`
}

// Config wires the engine's collaborators and protocol settings.
type Config struct {
	// Protocol, when nil, is created fresh from FeeBps and FeeRecipient.
	// When non-nil (restored from persistence) it is used as-is.
	Protocol *types.ProtocolConfig

	FeeBps       uint32
	FeeRecipient string

	// Keeper is the identity allowed to rebalance and inspect any position.
	Keeper string

	Oracle    venue.Oracle
	Liquidity venue.LiquidityVenue
	Lending   venue.LendingVenue
	Swapper   venue.SwapAggregator

	Clock  Clock
	Params Params
}

// Engine serializes all mutation of protocol, user and position state. Every
// method is atomic: on error nothing is observable, on success everything is.
type Engine struct {
	mu  sync.Mutex
	log zerolog.Logger

	protocol  *types.ProtocolConfig
	users     map[string]*types.UserAccount
	positions map[types.PositionKey]*types.Position

	keeper    string
	oracle    venue.Oracle
	liquidity venue.LiquidityVenue
	lending   venue.LendingVenue
	swapper   venue.SwapAggregator
	clock     Clock
	params    Params
}

// New validates the configuration and returns a ready engine.
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	protocol := cfg.Protocol
	if protocol == nil {
		protocol = &types.ProtocolConfig{
			FeeRecipient:   cfg.FeeRecipient,
			FeeBps:         cfg.FeeBps,
			FeesCollectedA: sdkmath.ZeroInt(),
			FeesCollectedB: sdkmath.ZeroInt(),
		}
	}

	e := &Engine{
		log:       logger.GetForComponent("engine"),
		protocol:  protocol,
		users:     make(map[string]*types.UserAccount),
		positions: make(map[types.PositionKey]*types.Position),
		keeper:    cfg.Keeper,
		oracle:    cfg.Oracle,
		liquidity: cfg.Liquidity,
		lending:   cfg.Lending,
		swapper:   cfg.Swapper,
		clock:     cfg.Clock,
		params:    cfg.Params,
	}

	e.log.Info().
		Uint32("feeBps", protocol.FeeBps).
		Str("feeRecipient", protocol.FeeRecipient).
		Uint64("cooldownTicks", cfg.Params.MinTicksBetweenRebalances).
		Msg("Engine created")

	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Protocol == nil {
		if err := fees.ValidateFeeBps(cfg.FeeBps); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
		if cfg.FeeRecipient == "" {
			return fmt.Errorf("%w: fee recipient cannot be empty", ErrInvalidConfig)
		}
	} else {
		if err := fees.ValidateFeeBps(cfg.Protocol.FeeBps); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
		if cfg.Protocol.FeeRecipient == "" {
			return fmt.Errorf("%w: restored protocol has no fee recipient", ErrInvalidConfig)
		}
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("%w: oracle cannot be nil", ErrInvalidConfig)
	}
	if cfg.Liquidity == nil {
		return fmt.Errorf("%w: liquidity venue cannot be nil", ErrInvalidConfig)
	}
	if cfg.Lending == nil {
		return fmt.Errorf("%w: lending venue cannot be nil", ErrInvalidConfig)
	}
	if cfg.Swapper == nil {
		return fmt.Errorf("%w: swap aggregator cannot be nil", ErrInvalidConfig)
	}
	if cfg.Clock == nil {
		return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
	}
	return nil
}

// LoadState restores users and positions from persistence. It replaces any
// in-memory state and is meant to run once at startup.
func (e *Engine) LoadState(users []types.UserAccount, positions []types.Position) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	restoredUsers := make(map[string]*types.UserAccount, len(users))
	for i := range users {
		u := users[i]
		if u.Owner == "" {
			return fmt.Errorf("%w: user with empty owner", ErrInvalidConfig)
		}
		restoredUsers[u.Owner] = &u
	}

	restoredPositions := make(map[types.PositionKey]*types.Position, len(positions))
	for i := range positions {
		p := positions[i]
		if _, ok := restoredUsers[p.Owner]; !ok {
			return fmt.Errorf("%w: position %s has no user account", ErrInvalidConfig, p.Key())
		}
		if p.RangeMin.IsNil() || p.RangeMax.IsNil() || p.RangeMin.GTE(p.RangeMax) {
			return fmt.Errorf("%w: position %s", ErrInvalidPriceRange, p.Key())
		}
		restoredPositions[p.Key()] = &p
	}

	e.users = restoredUsers
	e.positions = restoredPositions
	e.log.Info().
		Int("users", len(restoredUsers)).
		Int("positions", len(restoredPositions)).
		Msg("Engine state restored from persistence")
	return nil
}

// CreatePosition opens a new position for owner. The position ID must equal
// the owner's next sequence number (gapless, strictly increasing); a first
// interaction implicitly creates the user account.
func (e *Engine) CreatePosition(owner string, positionID uint64, rangeMin, rangeMax sdkmath.Int) (types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if owner == "" {
		return types.Position{}, fmt.Errorf("%w: owner cannot be empty", ErrUnauthorized)
	}
	if rangeMin.IsNil() || rangeMax.IsNil() || rangeMin.IsNegative() {
		return types.Position{}, fmt.Errorf("%w: nil or negative bound", ErrInvalidPriceRange)
	}
	if rangeMin.GTE(rangeMax) {
		return types.Position{}, fmt.Errorf("%w: [%s, %s]", ErrInvalidPriceRange, rangeMin, rangeMax)
	}

	expected := uint64(1)
	user := e.users[owner]
	if user != nil {
		expected = user.NextPositionID()
	}
	if positionID != expected {
		return types.Position{}, fmt.Errorf("%w: got %d, expected %d", ErrInvalidSequence, positionID, expected)
	}

	// All validation passed; mutations start here.
	if user == nil {
		user = &types.UserAccount{Owner: owner}
		e.users[owner] = user
	}

	pos := &types.Position{
		Owner:              owner,
		PositionID:         positionID,
		RangeMin:           rangeMin,
		RangeMax:           rangeMax,
		Balances:           ledger.NewBalances(),
		CreatedAtTick:      e.clock.Now(),
		LastRebalancePrice: sdkmath.ZeroInt(),
	}
	e.positions[pos.Key()] = pos

	user.OpenPositions++
	user.LifetimeCreated++
	e.protocol.TotalPositions++

	e.log.Info().
		Str("position", pos.Key().String()).
		Str("rangeMin", rangeMin.String()).
		Str("rangeMax", rangeMax.String()).
		Msg("Position created")

	return *pos.Clone(), nil
}

// DepositResult reports the fee split applied to each token of a deposit.
type DepositResult struct {
	NetA sdkmath.Int `json:"net_a"`
	FeeA sdkmath.Int `json:"fee_a"`
	NetB sdkmath.Int `json:"net_b"`
	FeeB sdkmath.Int `json:"fee_b"`
}

// Deposit credits the net of each nonzero amount to the position's idle
// balance and routes the fee to the protocol recipient. Zero for one token is
// a permitted single-sided deposit.
func (e *Engine) Deposit(caller string, key types.PositionKey, amountA, amountB sdkmath.Int) (DepositResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, false)
	if err != nil {
		return DepositResult{}, err
	}

	splitA, err := fees.SplitDeposit(orZero(amountA), e.protocol.FeeBps)
	if err != nil {
		return DepositResult{}, err
	}
	splitB, err := fees.SplitDeposit(orZero(amountB), e.protocol.FeeBps)
	if err != nil {
		return DepositResult{}, err
	}

	staged := pos.Balances.Clone()
	if splitA.Net.IsPositive() {
		if _, err := staged.Credit(ledger.LocationIdle, ledger.TokenA, splitA.Net); err != nil {
			return DepositResult{}, err
		}
	}
	if splitB.Net.IsPositive() {
		if _, err := staged.Credit(ledger.LocationIdle, ledger.TokenB, splitB.Net); err != nil {
			return DepositResult{}, err
		}
	}

	pos.Balances = staged
	e.protocol.FeesCollectedA = e.protocol.FeesCollectedA.Add(splitA.Fee)
	e.protocol.FeesCollectedB = e.protocol.FeesCollectedB.Add(splitB.Fee)

	e.log.Info().
		Str("position", key.String()).
		Str("netA", splitA.Net.String()).
		Str("feeA", splitA.Fee.String()).
		Str("netB", splitB.Net.String()).
		Str("feeB", splitB.Fee.String()).
		Msg("Deposit credited to idle")

	return DepositResult{NetA: splitA.Net, FeeA: splitA.Fee, NetB: splitB.Net, FeeB: splitB.Fee}, nil
}

// WithdrawResult reports the gross, net and fee amounts of a withdrawal.
type WithdrawResult struct {
	GrossA sdkmath.Int `json:"gross_a"`
	NetA   sdkmath.Int `json:"net_a"`
	FeeA   sdkmath.Int `json:"fee_a"`
	GrossB sdkmath.Int `json:"gross_b"`
	NetB   sdkmath.Int `json:"net_b"`
	FeeB   sdkmath.Int `json:"fee_b"`
}

// Withdraw debits percentage percent of each token's total from the idle
// balance and splits the protocol fee off the gross. Funds still deployed to
// a venue must be unwound by a rebalance first; the idle balance is never
// bypassed, so an under-funded idle fails with InsufficientBalance.
func (e *Engine) Withdraw(caller string, key types.PositionKey, percentage uint8) (WithdrawResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, false)
	if err != nil {
		return WithdrawResult{}, err
	}
	if percentage < 1 || percentage > 100 {
		return WithdrawResult{}, fmt.Errorf("%w: %d", ErrInvalidPercentage, percentage)
	}

	pct := sdkmath.NewInt(int64(percentage))
	hundred := sdkmath.NewInt(100)
	grossA := pos.Balances.Total(ledger.TokenA).Mul(pct).Quo(hundred)
	grossB := pos.Balances.Total(ledger.TokenB).Mul(pct).Quo(hundred)

	staged := pos.Balances.Clone()
	if grossA.IsPositive() {
		if _, err := staged.Debit(ledger.LocationIdle, ledger.TokenA, grossA); err != nil {
			return WithdrawResult{}, err
		}
	}
	if grossB.IsPositive() {
		if _, err := staged.Debit(ledger.LocationIdle, ledger.TokenB, grossB); err != nil {
			return WithdrawResult{}, err
		}
	}

	splitA, err := fees.SplitWithdraw(grossA, e.protocol.FeeBps)
	if err != nil {
		return WithdrawResult{}, err
	}
	splitB, err := fees.SplitWithdraw(grossB, e.protocol.FeeBps)
	if err != nil {
		return WithdrawResult{}, err
	}

	pos.Balances = staged
	e.protocol.FeesCollectedA = e.protocol.FeesCollectedA.Add(splitA.Fee)
	e.protocol.FeesCollectedB = e.protocol.FeesCollectedB.Add(splitB.Fee)

	e.log.Info().
		Str("position", key.String()).
		Uint8("percentage", percentage).
		Str("grossA", grossA.String()).
		Str("grossB", grossB.String()).
		Msg("Withdrawal debited from idle")

	return WithdrawResult{
		GrossA: grossA, NetA: splitA.Net, FeeA: splitA.Fee,
		GrossB: grossB, NetB: splitB.Net, FeeB: splitB.Fee,
	}, nil
}

// Pause stops the position from rebalancing. Pausing an already paused
// position is permitted and a no-op.
func (e *Engine) Pause(caller string, key types.PositionKey) error {
	return e.setPaused(caller, key, true)
}

// Resume re-enables rebalancing.
func (e *Engine) Resume(caller string, key types.PositionKey) error {
	return e.setPaused(caller, key, false)
}

func (e *Engine) setPaused(caller string, key types.PositionKey, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, false)
	if err != nil {
		return err
	}
	pos.Paused = paused
	e.log.Info().Str("position", key.String()).Bool("paused", paused).Msg("Pause flag updated")
	return nil
}

// ClosePosition destroys an empty position and decrements the user's open
// counter and the protocol total.
func (e *Engine) ClosePosition(caller string, key types.PositionKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, false)
	if err != nil {
		return err
	}
	if !pos.Balances.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrPositionNotEmpty, key)
	}

	delete(e.positions, key)
	if user := e.users[pos.Owner]; user != nil && user.OpenPositions > 0 {
		user.OpenPositions--
	}
	if e.protocol.TotalPositions > 0 {
		e.protocol.TotalPositions--
	}

	e.log.Info().Str("position", key.String()).Msg("Position closed")
	return nil
}

// authorizedPosition looks up a position and enforces ownership. When
// allowKeeper is set the configured keeper identity also passes. Must be
// called with the engine lock held.
func (e *Engine) authorizedPosition(caller string, key types.PositionKey, allowKeeper bool) (*types.Position, error) {
	if caller != key.Owner && !(allowKeeper && e.keeper != "" && caller == e.keeper) {
		return nil, fmt.Errorf("%w: caller %q, position %s", ErrUnauthorized, caller, key)
	}
	pos, ok := e.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, key)
	}
	return pos, nil
}

// Protocol returns a copy of the protocol config.
func (e *Engine) Protocol() types.ProtocolConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.protocol
}

// User returns a copy of one user account.
func (e *Engine) User(owner string) (types.UserAccount, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.users[owner]
	if !ok {
		return types.UserAccount{}, false
	}
	return *u, true
}

// Users returns copies of all user accounts, ordered by owner.
func (e *Engine) Users() []types.UserAccount {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.UserAccount, 0, len(e.users))
	for _, u := range e.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// Position returns a copy of one position.
func (e *Engine) Position(key types.PositionKey) (types.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[key]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, key)
	}
	return *pos.Clone(), nil
}

// Positions returns copies of all open positions, ordered by key.
func (e *Engine) Positions() []types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].PositionID < out[j].PositionID
	})
	return out
}

func orZero(amount sdkmath.Int) sdkmath.Int {
	if amount.IsNil() {
		return sdkmath.ZeroInt()
	}
	return amount
}
