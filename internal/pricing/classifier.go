/*

This file contains the price-range classifier. Prices, confidence intervals
and range bounds all share the same fixed-point USD unit (micro-dollars).

*/

package pricing

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// PriceScale is the fixed-point unit for USD prices: 1_000_000 = $1.
const PriceScale = 1_000_000

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidQuote = errors.New("oracle quote is invalid")
	ErrStalePrice   = errors.New("oracle quote is stale")
)

// Verdict is the range-membership classification of a price.
type Verdict uint8

const (
	BelowRange Verdict = iota
	InRange
	AboveRange
)

func (v Verdict) String() string {
	switch v {
	case BelowRange:
		return "below_range"
	case InRange:
		return "in_range"
	case AboveRange:
		return "above_range"
	default:
		return fmt.Sprintf("verdict(%d)", uint8(v))
	}
}

// Quote is the tuple the price oracle collaborator supplies. PublishTick is
// in the same logical clock as position rebalance timestamps.
type Quote struct {
	Price       sdkmath.Int `json:"price"`
	Confidence  sdkmath.Int `json:"confidence"`
	PublishTick uint64      `json:"publish_tick"`
}

// Validate rejects quotes with missing or non-positive prices.
func (q Quote) Validate() error {
	if q.Price.IsNil() || q.Confidence.IsNil() {
		return fmt.Errorf("%w: nil price or confidence", ErrInvalidQuote)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("%w: price %s is not positive", ErrInvalidQuote, q.Price)
	}
	if q.Confidence.IsNegative() {
		return fmt.Errorf("%w: confidence %s is negative", ErrInvalidQuote, q.Confidence)
	}
	return nil
}

// IsStale reports whether the quote is older than maxAgeTicks at the given
// logical clock reading.
func (q Quote) IsStale(nowTick, maxAgeTicks uint64) bool {
	if nowTick < q.PublishTick {
		return false
	}
	return nowTick-q.PublishTick > maxAgeTicks
}

// Classify maps a price against an inclusive [rangeMin, rangeMax] band. The
// confidence interval is accepted for future width rejection but only the
// price itself is compared here; boundary prices count as in range.
func Classify(price, confidence, rangeMin, rangeMax sdkmath.Int) Verdict {
	_ = confidence
	if price.LT(rangeMin) {
		return BelowRange
	}
	if price.GT(rangeMax) {
		return AboveRange
	}
	return InRange
}

// StraddlesBoundary reports whether the confidence band [price-conf,
// price+conf] overlaps a range boundary, i.e. the price is neither
// definitively inside nor definitively outside the band. Callers use this to
// skip rebalancing in the uncertain zone.
func StraddlesBoundary(price, confidence, rangeMin, rangeMax sdkmath.Int) bool {
	lower := price.Sub(confidence)
	if lower.IsNegative() {
		lower = sdkmath.ZeroInt()
	}
	upper := price.Add(confidence)

	definitelyIn := lower.GTE(rangeMin) && upper.LTE(rangeMax)
	definitelyOut := upper.LT(rangeMin) || lower.GT(rangeMax)
	return !definitelyIn && !definitelyOut
}
