package balancer

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

func price(usd float64) sdkmath.Int {
	return sdkmath.NewInt(int64(usd * pricing.PriceScale))
}

func TestComputeTokenAHeavy(t *testing.T) {
	// 300 A, 0 B at price 1.50: total value 300, target 150, swap 150 A in.
	swap, err := Compute(sdkmath.NewInt(300), sdkmath.ZeroInt(), price(1.5))
	require.NoError(t, err)
	require.NotNil(t, swap)

	assert.Equal(t, ledger.TokenA, swap.TokenIn)
	assert.Equal(t, ledger.TokenB, swap.TokenOut)
	assert.Equal(t, sdkmath.NewInt(150), swap.AmountIn)
}

func TestComputeTokenBHeavy(t *testing.T) {
	// 0 A, 400 B at price 2.00: B is worth 800 A, target 400, so swap enough
	// B to lift A to 400: 400 * scale / price = 200 B in.
	swap, err := Compute(sdkmath.ZeroInt(), sdkmath.NewInt(400), price(2.0))
	require.NoError(t, err)
	require.NotNil(t, swap)

	assert.Equal(t, ledger.TokenB, swap.TokenIn)
	assert.Equal(t, ledger.TokenA, swap.TokenOut)
	assert.Equal(t, sdkmath.NewInt(200), swap.AmountIn)
}

func TestComputeAlreadyBalanced(t *testing.T) {
	// 100 A and 100 B at price 1.00 are already at a 50/50 value split.
	swap, err := Compute(sdkmath.NewInt(100), sdkmath.NewInt(100), price(1.0))
	require.NoError(t, err)
	assert.Nil(t, swap)
}

func TestComputeBothEmpty(t *testing.T) {
	swap, err := Compute(sdkmath.ZeroInt(), sdkmath.ZeroInt(), price(1.0))
	require.NoError(t, err)
	assert.Nil(t, swap)
}

func TestComputeDustImbalance(t *testing.T) {
	// 1 A, 0 B: target is 0 after flooring, so the whole unit swaps. With
	// 0 A and 1 B at a price above $1 the B->A amount also stays nonzero,
	// but a sub-unit deficit emits no swap.
	swap, err := Compute(sdkmath.ZeroInt(), sdkmath.OneInt(), price(0.5))
	require.NoError(t, err)
	assert.Nil(t, swap)
}

func TestComputeValidation(t *testing.T) {
	_, err := Compute(sdkmath.NewInt(-1), sdkmath.ZeroInt(), price(1.0))
	assert.ErrorIs(t, err, ErrInvalidIdle)

	_, err = Compute(sdkmath.ZeroInt(), sdkmath.Int{}, price(1.0))
	assert.ErrorIs(t, err, ErrInvalidIdle)

	_, err = Compute(sdkmath.NewInt(10), sdkmath.NewInt(10), sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestExpectedOut(t *testing.T) {
	aIn := Swap{TokenIn: ledger.TokenA, TokenOut: ledger.TokenB, AmountIn: sdkmath.NewInt(150)}
	assert.Equal(t, sdkmath.NewInt(100), ExpectedOut(aIn, price(1.5)))

	bIn := Swap{TokenIn: ledger.TokenB, TokenOut: ledger.TokenA, AmountIn: sdkmath.NewInt(200)}
	assert.Equal(t, sdkmath.NewInt(400), ExpectedOut(bIn, price(2.0)))
}
