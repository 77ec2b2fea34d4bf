package venue

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

func TestSimLPRoundTrip(t *testing.T) {
	clock := NewSimClock(0)
	oracle := NewSimOracle(clock, sdkmath.NewInt(pricing.PriceScale), sdkmath.ZeroInt())
	v := NewSimVenues(oracle)

	handle, err := v.OpenPosition(sdkmath.NewInt(100), sdkmath.NewInt(50), sdkmath.NewInt(1), sdkmath.NewInt(2))
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	outA, outB, err := v.ClosePosition(handle)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100), outA)
	assert.Equal(t, sdkmath.NewInt(50), outB)

	_, _, err = v.ClosePosition(handle)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestSimLendingShortfall(t *testing.T) {
	clock := NewSimClock(0)
	oracle := NewSimOracle(clock, sdkmath.NewInt(pricing.PriceScale), sdkmath.ZeroInt())
	v := NewSimVenues(oracle)

	require.NoError(t, v.Deposit(ledger.TokenA, sdkmath.NewInt(100)))

	_, err := v.Withdraw(ledger.TokenA, sdkmath.NewInt(101))
	assert.ErrorIs(t, err, ErrLendingShortfall)

	out, err := v.Withdraw(ledger.TokenA, sdkmath.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(100), out)
}

func TestSimSwapMinOut(t *testing.T) {
	clock := NewSimClock(0)
	// $2: 100 A swaps to 50 B.
	oracle := NewSimOracle(clock, sdkmath.NewInt(2*pricing.PriceScale), sdkmath.ZeroInt())
	v := NewSimVenues(oracle)

	out, err := v.Swap(ledger.TokenA, sdkmath.NewInt(100), sdkmath.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50), out)

	_, err = v.Swap(ledger.TokenA, sdkmath.NewInt(100), sdkmath.NewInt(51))
	assert.ErrorIs(t, err, ErrSlippageExceeded)
}

func TestSimOracleStampsClock(t *testing.T) {
	clock := NewSimClock(42)
	oracle := NewSimOracle(clock, sdkmath.NewInt(pricing.PriceScale), sdkmath.ZeroInt())

	quote, err := oracle.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), quote.PublishTick)

	clock.Advance(8)
	quote, err = oracle.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), quote.PublishTick)
}
