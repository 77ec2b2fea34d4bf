package fees

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDeposit(t *testing.T) {
	t.Run("50 bps on 100_000_000", func(t *testing.T) {
		split, err := SplitDeposit(sdkmath.NewInt(100_000_000), 50)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(500_000), split.Fee)
		assert.Equal(t, sdkmath.NewInt(99_500_000), split.Net)
	})

	t.Run("50 bps on 1_000_000_000", func(t *testing.T) {
		split, err := SplitDeposit(sdkmath.NewInt(1_000_000_000), 50)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(5_000_000), split.Fee)
		assert.Equal(t, sdkmath.NewInt(995_000_000), split.Net)
	})

	t.Run("zero fee rate", func(t *testing.T) {
		split, err := SplitDeposit(sdkmath.NewInt(12_345), 0)
		require.NoError(t, err)
		assert.True(t, split.Fee.IsZero())
		assert.Equal(t, sdkmath.NewInt(12_345), split.Net)
	})

	t.Run("fee floors to zero on tiny gross", func(t *testing.T) {
		// 3 * 1 / 10000 = 0 after truncation; net keeps the full gross.
		split, err := SplitDeposit(sdkmath.NewInt(3), 1)
		require.NoError(t, err)
		assert.True(t, split.Fee.IsZero())
		assert.Equal(t, sdkmath.NewInt(3), split.Net)
	})

	t.Run("net plus fee reconstructs gross", func(t *testing.T) {
		gross := sdkmath.NewInt(999_999_937)
		split, err := SplitDeposit(gross, 777)
		require.NoError(t, err)
		assert.Equal(t, gross, split.Net.Add(split.Fee))
	})
}

func TestSplitWithdraw(t *testing.T) {
	split, err := SplitWithdraw(sdkmath.NewInt(25_000_000), 50)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(125_000), split.Fee)
	assert.Equal(t, sdkmath.NewInt(24_875_000), split.Net)
}

func TestSplitRejectsInvalidGross(t *testing.T) {
	_, err := SplitDeposit(sdkmath.NewInt(-1), 50)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = SplitWithdraw(sdkmath.Int{}, 50)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidateFeeBps(t *testing.T) {
	assert.NoError(t, ValidateFeeBps(0))
	assert.NoError(t, ValidateFeeBps(MaxFeeBps))
	assert.ErrorIs(t, ValidateFeeBps(MaxFeeBps+1), ErrFeeTooHigh)
}
