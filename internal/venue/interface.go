package venue

import (
	sdkmath "cosmossdk.io/math"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

// Oracle supplies the price signal the rebalance decision runs on.
// Price and confidence are in the same fixed-point micro-USD unit as the
// position range bounds.
type Oracle interface {
	// Latest returns the most recent price quote.
	Latest() (pricing.Quote, error)
}

// LiquidityVenue is the external LP protocol funds are deployed to while the
// price is in range. Calls are atomic: they fully succeed or fully fail, and
// the returned amounts are the source of truth for LP-side balances.
type LiquidityVenue interface {
	// OpenPosition deploys both token amounts into a [rangeMin, rangeMax]
	// liquidity position and returns an opaque venue handle.
	OpenPosition(amountA, amountB, rangeMin, rangeMax sdkmath.Int) (string, error)

	// ClosePosition unwinds the position behind handle and returns the exact
	// token amounts recovered.
	ClosePosition(handle string) (amountA, amountB sdkmath.Int, err error)
}

// LendingVenue is the external lending protocol funds are parked in while
// the price is out of range.
type LendingVenue interface {
	// Deposit supplies amount of token to the lending venue.
	Deposit(token ledger.Token, amount sdkmath.Int) error

	// Withdraw redeems amount of token; the venue returns the exact amount
	// actually released, which the caller credits verbatim.
	Withdraw(token ledger.Token, amount sdkmath.Int) (sdkmath.Int, error)
}

// SwapAggregator executes the single balancing trade before LP entry. An
// output below minOut is a hard failure of the enclosing rebalance.
type SwapAggregator interface {
	Swap(tokenIn ledger.Token, amountIn, minOut sdkmath.Int) (sdkmath.Int, error)
}
