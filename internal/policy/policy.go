/*

This file contains the rebalance policy: a pure decision function over a
position snapshot and the current range verdict. It never mutates anything;
the lifecycle manager owns applying the decision.

*/

package policy

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

// Decision is the allocation action the policy selects.
type Decision uint8

const (
	NoAction Decision = iota
	MoveToLiquidity
	MoveToLending
)

func (d Decision) String() string {
	switch d {
	case NoAction:
		return "no_action"
	case MoveToLiquidity:
		return "move_to_liquidity"
	case MoveToLending:
		return "move_to_lending"
	default:
		return fmt.Sprintf("decision(%d)", uint8(d))
	}
}

// Decide selects the allocation action for one position. Rule order matters:
//
//  1. Paused positions never rebalance, before any price logic.
//  2. The cooldown bounds venue-interaction frequency and takes precedence
//     over the price regime.
//  3. In range with funds in lending or idle: consolidate into LP.
//  4. Out of range with funds in LP or idle: consolidate into lending.
//  5. Otherwise the position is already where the price regime wants it.
//
// Idle funds are swept opportunistically whichever side they land on.
func Decide(
	verdict pricing.Verdict,
	hasIdle, hasLP, hasLending bool,
	isPaused bool,
	ticksSinceLastRebalance uint64,
	minTicksBetweenRebalances uint64,
) Decision {
	if isPaused {
		return NoAction
	}
	if ticksSinceLastRebalance < minTicksBetweenRebalances {
		return NoAction
	}
	if verdict == pricing.InRange {
		if hasLending || hasIdle {
			return MoveToLiquidity
		}
		return NoAction
	}
	if hasLP || hasIdle {
		return MoveToLending
	}
	return NoAction
}

// MeetsMoveThreshold reports whether the price has moved at least minMoveBps
// basis points from the last rebalance price. A zero threshold or a zero
// last price (no rebalance yet) always passes.
func MeetsMoveThreshold(lastPrice, currentPrice sdkmath.Int, minMoveBps uint32) bool {
	if minMoveBps == 0 {
		return true
	}
	if lastPrice.IsNil() || !lastPrice.IsPositive() {
		return true
	}
	delta := currentPrice.Sub(lastPrice)
	if delta.IsNegative() {
		delta = delta.Neg()
	}
	moveBps := delta.Mul(sdkmath.NewInt(10_000)).Quo(lastPrice)
	return moveBps.GTE(sdkmath.NewInt(int64(minMoveBps)))
}
