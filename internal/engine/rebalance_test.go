package engine

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/policy"
	"github.com/keeperlabs/reallocator/internal/pricing"
	"github.com/keeperlabs/reallocator/internal/types"
)

// fundedPosition creates a position with 300 token A sitting idle.
func fundedPosition(t *testing.T, h *testHarness) types.PositionKey {
	t.Helper()
	key := h.createPosition(t)
	_, err := h.engine.Deposit(testOwner, key, sdkmath.NewInt(300), sdkmath.ZeroInt())
	require.NoError(t, err)
	return key
}

func TestRebalanceMovesIdleToLiquidity(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	// $1.50 sits inside the $1 - $2 range.
	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	assert.Equal(t, policy.MoveToLiquidity, outcome.Decision)
	assert.Equal(t, ReasonRebalanced, outcome.Reason)
	require.NotNil(t, outcome.Swapped)
	assert.Equal(t, ledger.TokenA, outcome.Swapped.TokenIn)
	assert.Equal(t, sdkmath.NewInt(150), outcome.Swapped.AmountIn)

	pos, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.LPHandle)
	assert.False(t, pos.HasIdle())
	assert.False(t, pos.HasLending())

	// 150 A swapped to 100 B at $1.50, everything deployed.
	assert.Equal(t, sdkmath.NewInt(150), pos.Balances.Balance(ledger.LocationLP, ledger.TokenA))
	assert.Equal(t, sdkmath.NewInt(100), pos.Balances.Balance(ledger.LocationLP, ledger.TokenB))

	assert.Equal(t, uint64(1), pos.TotalRebalances)
	assert.Equal(t, h.clock.Now(), pos.LastRebalanceTick)
	assert.Equal(t, usd(1.5), pos.LastRebalancePrice)
}

func TestRebalanceMovesToLendingWhenOutOfRange(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	h.clock.Advance(10)
	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())

	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.MoveToLending, outcome.Decision)
	assert.Equal(t, ReasonRebalanced, outcome.Reason)
	assert.Nil(t, outcome.Swapped)

	pos, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.Empty(t, pos.LPHandle)
	assert.False(t, pos.HasIdle())
	assert.False(t, pos.HasLP())

	// The LP unwind returned exactly what was deployed.
	assert.Equal(t, sdkmath.NewInt(150), pos.Balances.Balance(ledger.LocationLending, ledger.TokenA))
	assert.Equal(t, sdkmath.NewInt(100), pos.Balances.Balance(ledger.LocationLending, ledger.TokenB))
	assert.Equal(t, uint64(2), pos.TotalRebalances)
}

func TestRebalanceRoundTripBackToLiquidity(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())
	_, err = h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	// Price returns in range: lending unwinds back into a fresh LP position.
	h.oracle.SetPrice(usd(1.5), sdkmath.ZeroInt())
	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.MoveToLiquidity, outcome.Decision)

	pos, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.LPHandle)
	assert.False(t, pos.HasLending())

	// Per-token totals survived the full round trip.
	assert.Equal(t, sdkmath.NewInt(150), pos.Balances.Total(ledger.TokenA))
	assert.Equal(t, sdkmath.NewInt(100), pos.Balances.Total(ledger.TokenB))
}

func TestRebalancePausedSkipsBeforeOracle(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)
	require.NoError(t, h.engine.Pause(testOwner, key))

	// An armed oracle failure proves the quote is never requested.
	h.oracle.FailNext(errors.New("oracle down"))

	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.NoAction, outcome.Decision)
	assert.Equal(t, ReasonPaused, outcome.Reason)
}

func TestRebalanceCooldown(t *testing.T) {
	h := newTestHarness(t, 0, Params{MinTicksBetweenRebalances: 100})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	h.clock.Advance(99)
	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())

	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.NoAction, outcome.Decision)
	assert.Equal(t, ReasonCooldown, outcome.Reason)

	h.clock.Advance(1)
	outcome, err = h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.MoveToLending, outcome.Decision)
}

func TestRebalanceAlreadyAllocated(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.NoAction, outcome.Decision)
	assert.Equal(t, ReasonAllocated, outcome.Reason)
}

func TestRebalanceVenueFailureLeavesPositionUntouched(t *testing.T) {
	failures := []string{"open_lp", "swap"}
	for _, call := range failures {
		t.Run(call, func(t *testing.T) {
			h := newTestHarness(t, 0, Params{})
			key := fundedPosition(t, h)

			before, err := h.engine.Position(key)
			require.NoError(t, err)

			h.venues.FailNext(call, errors.New("venue rejected"))

			_, err = h.engine.Rebalance(testOwner, key)
			require.ErrorIs(t, err, ErrExternalCallFailed)

			after, err := h.engine.Position(key)
			require.NoError(t, err)
			assert.Equal(t, before.Balances, after.Balances)
			assert.Equal(t, before.LastRebalanceTick, after.LastRebalanceTick)
			assert.Equal(t, before.TotalRebalances, after.TotalRebalances)
			assert.Equal(t, before.LPHandle, after.LPHandle)
		})
	}
}

func TestRebalanceLendingFailureLeavesPositionUntouched(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	before, err := h.engine.Position(key)
	require.NoError(t, err)

	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())
	h.venues.FailNext("lend_deposit", errors.New("lending market frozen"))

	_, err = h.engine.Rebalance(testOwner, key)
	require.ErrorIs(t, err, ErrExternalCallFailed)

	after, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.Equal(t, before.Balances, after.Balances)
	assert.Equal(t, before.LastRebalanceTick, after.LastRebalanceTick)
	assert.Equal(t, before.TotalRebalances, after.TotalRebalances)
}

func TestRebalanceOracleFailure(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	h.oracle.FailNext(errors.New("feed offline"))

	_, err := h.engine.Rebalance(testOwner, key)
	assert.ErrorIs(t, err, ErrExternalCallFailed)
}

// staticOracle returns a fixed quote regardless of the clock.
type staticOracle struct {
	quote pricing.Quote
}

func (o staticOracle) Latest() (pricing.Quote, error) {
	return o.quote, nil
}

func TestRebalanceRejectsStaleQuote(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	stale, err := New(Config{
		FeeBps: 0, FeeRecipient: "fee-sink", Keeper: testKeeper,
		Oracle:    staticOracle{quote: pricing.Quote{Price: usd(1.5), Confidence: sdkmath.ZeroInt(), PublishTick: 1}},
		Liquidity: h.venues, Lending: h.venues, Swapper: h.venues,
		Clock:  h.clock,
		Params: Params{MaxPriceAgeTicks: 10},
	})
	require.NoError(t, err)
	require.NoError(t, stale.LoadState(h.engine.Users(), h.engine.Positions()))

	_, err = stale.Rebalance(testOwner, key)
	require.ErrorIs(t, err, ErrExternalCallFailed)
	assert.ErrorIs(t, err, pricing.ErrStalePrice)
}

func TestRebalanceSkipsUncertainZone(t *testing.T) {
	h := newTestHarness(t, 0, Params{UseConfidenceBand: true})
	key := fundedPosition(t, h)

	// $2.05 is above range but the ±$0.10 band straddles the $2 boundary.
	h.oracle.SetPrice(usd(2.05), usd(0.10))

	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.NoAction, outcome.Decision)
	assert.Equal(t, ReasonUncertainPrice, outcome.Reason)

	pos, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.True(t, pos.HasIdle())
	assert.Equal(t, uint64(0), pos.TotalRebalances)
}

func TestRebalanceSkipsSubThresholdMove(t *testing.T) {
	h := newTestHarness(t, 0, Params{MinPriceMoveBps: 100})
	key := fundedPosition(t, h)

	// First rebalance establishes the reference price near the top of range.
	h.oracle.SetPrice(usd(2.0), sdkmath.ZeroInt())
	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	// A 0.005% drift out of range stays below the 1% move threshold.
	h.oracle.SetPrice(sdkmath.NewInt(2_000_100), sdkmath.ZeroInt())
	outcome, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.NoAction, outcome.Decision)
	assert.Equal(t, ReasonBelowMoveThresh, outcome.Reason)

	// A real breakout clears the threshold and moves to lending.
	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())
	outcome, err = h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, policy.MoveToLending, outcome.Decision)
}

func TestRebalanceAuthorization(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testStranger, key)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// The configured keeper may rebalance any position.
	outcome, err := h.engine.Rebalance(testKeeper, key)
	require.NoError(t, err)
	assert.Equal(t, policy.MoveToLiquidity, outcome.Decision)
}

func TestWithdrawRequiresIdleFunds(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	_, err := h.engine.Rebalance(testOwner, key)
	require.NoError(t, err)

	// Everything is in the LP now; withdrawal pays out of idle only.
	_, err = h.engine.Withdraw(testOwner, key, 50)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestCheckStatusIsReadOnly(t *testing.T) {
	h := newTestHarness(t, 0, Params{})
	key := fundedPosition(t, h)

	status, err := h.engine.CheckStatus(testOwner, key)
	require.NoError(t, err)
	assert.Equal(t, pricing.InRange, status.Verdict)
	assert.True(t, status.HasIdle)
	assert.False(t, status.HasLP)
	assert.Equal(t, sdkmath.NewInt(300), status.TotalA)

	h.oracle.SetPrice(usd(2.5), sdkmath.ZeroInt())
	status, err = h.engine.CheckStatus(testKeeper, key)
	require.NoError(t, err)
	assert.Equal(t, pricing.AboveRange, status.Verdict)

	// No mutation happened.
	pos, err := h.engine.Position(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pos.TotalRebalances)
	assert.Equal(t, uint64(0), pos.LastRebalanceTick)
}
