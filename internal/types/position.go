/*

This file contains the types for positions which hold all the state needed
for deposit accounting and rebalancing between idle, LP and lending.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
)

// PositionKey identifies a position: IDs are sequential per owner, so the
// pair is globally unique.
type PositionKey struct {
	Owner      string `json:"owner"`
	PositionID uint64 `json:"position_id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d", k.Owner, k.PositionID)
}

// Position is one user's capital allocation between a price-ranged liquidity
// venue and a lending venue. Balances only change through deposit, withdraw
// and fee extraction; a rebalance moves value between locations but preserves
// the per-token total (modulo venue-boundary rounding).
type Position struct {
	Owner      string `json:"owner"`
	PositionID uint64 `json:"position_id"`

	RangeMin sdkmath.Int `json:"range_min"` // inclusive, micro-USD
	RangeMax sdkmath.Int `json:"range_max"` // inclusive, micro-USD

	Balances ledger.Balances `json:"balances"`

	Paused bool `json:"paused"`

	// LPHandle is the venue handle of the open liquidity position, empty
	// when no LP position is open.
	LPHandle string `json:"lp_handle,omitempty"`

	CreatedAtTick      uint64      `json:"created_at_tick"`
	LastRebalanceTick  uint64      `json:"last_rebalance_tick"`
	LastRebalancePrice sdkmath.Int `json:"last_rebalance_price"`
	TotalRebalances    uint64      `json:"total_rebalances"`
}

// Key returns the position's identity.
func (p *Position) Key() PositionKey {
	return PositionKey{Owner: p.Owner, PositionID: p.PositionID}
}

// HasIdle reports whether either token has idle funds.
func (p *Position) HasIdle() bool {
	return p.Balances.Balance(ledger.LocationIdle, ledger.TokenA).IsPositive() ||
		p.Balances.Balance(ledger.LocationIdle, ledger.TokenB).IsPositive()
}

// HasLP reports whether either token is deployed to the liquidity venue.
func (p *Position) HasLP() bool {
	return p.Balances.Balance(ledger.LocationLP, ledger.TokenA).IsPositive() ||
		p.Balances.Balance(ledger.LocationLP, ledger.TokenB).IsPositive()
}

// HasLending reports whether either token is deployed to the lending venue.
func (p *Position) HasLending() bool {
	return p.Balances.Balance(ledger.LocationLending, ledger.TokenA).IsPositive() ||
		p.Balances.Balance(ledger.LocationLending, ledger.TokenB).IsPositive()
}

// Clone returns an independent copy of the position.
func (p *Position) Clone() *Position {
	c := *p
	c.Balances = p.Balances.Clone()
	return &c
}

// PositionStatus is the read-only report produced by a status check: the
// current oracle price classified against the position's range, plus where
// funds currently sit.
type PositionStatus struct {
	Key          PositionKey     `json:"key"`
	Price        sdkmath.Int     `json:"price"`
	Confidence   sdkmath.Int     `json:"confidence"`
	Verdict      pricing.Verdict `json:"verdict"`
	VerdictLabel string          `json:"verdict_label"`
	Paused       bool            `json:"paused"`
	HasIdle      bool            `json:"has_idle"`
	HasLP        bool            `json:"has_lp"`
	HasLending   bool            `json:"has_lending"`
	TotalA       sdkmath.Int     `json:"total_a"`
	TotalB       sdkmath.Int     `json:"total_b"`
}
