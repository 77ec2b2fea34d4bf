/*

This file contains the token balancer: it computes the single swap that
equalizes the USD value of the two idle balances before a liquidity position
is opened. All arithmetic is exact integer math in the smallest token unit.

*/

package balancer

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrice = errors.New("reference price must be positive")
	ErrInvalidIdle  = errors.New("idle balance is nil or negative")
)

var priceScale = sdkmath.NewInt(pricing.PriceScale)

// Swap describes the single trade needed to reach a 50/50 value split.
type Swap struct {
	TokenIn  ledger.Token `json:"token_in"`
	TokenOut ledger.Token `json:"token_out"`
	AmountIn sdkmath.Int  `json:"amount_in"`
}

// Compute returns the swap that brings the idle balances to equal USD value,
// or nil when no swap is needed. The price is token B quoted in token A's
// smallest unit at pricing.PriceScale fixed point.
//
// An imbalance that rounds to less than one smallest unit of the input token
// emits no swap. Two empty idle balances are a no-op, not an error.
func Compute(idleA, idleB, price sdkmath.Int) (*Swap, error) {
	if idleA.IsNil() || idleA.IsNegative() {
		return nil, fmt.Errorf("%w: token A %v", ErrInvalidIdle, idleA)
	}
	if idleB.IsNil() || idleB.IsNegative() {
		return nil, fmt.Errorf("%w: token B %v", ErrInvalidIdle, idleB)
	}
	if idleA.IsZero() && idleB.IsZero() {
		return nil, nil
	}
	if price.IsNil() || !price.IsPositive() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	// Everything below is valued in token A's smallest unit.
	valueB := idleB.Mul(price).Quo(priceScale)
	total := idleA.Add(valueB)
	target := total.Quo(sdkmath.NewInt(2))

	if idleA.GT(target) {
		amountIn := idleA.Sub(target)
		if amountIn.IsZero() {
			return nil, nil
		}
		return &Swap{TokenIn: ledger.TokenA, TokenOut: ledger.TokenB, AmountIn: amountIn}, nil
	}

	// Token B carries the excess value; swap enough B to lift A to target.
	deficitA := target.Sub(idleA)
	amountIn := deficitA.Mul(priceScale).Quo(price)
	if amountIn.IsZero() {
		return nil, nil
	}
	return &Swap{TokenIn: ledger.TokenB, TokenOut: ledger.TokenA, AmountIn: amountIn}, nil
}

// ExpectedOut values an input amount at the reference price, giving the
// no-slippage output the swap aggregator would return.
func ExpectedOut(swap Swap, price sdkmath.Int) sdkmath.Int {
	if swap.TokenIn == ledger.TokenA {
		return swap.AmountIn.Mul(priceScale).Quo(price)
	}
	return swap.AmountIn.Mul(price).Quo(priceScale)
}
