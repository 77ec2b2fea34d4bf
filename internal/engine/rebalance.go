/*

This file contains the rebalance execution path: it evaluates the policy for
one position and, when the decision is a move, runs the venue calls against a
staged copy of the balances. The position only changes if every external call
succeeds; any failure leaves it byte-identical to before, including the
cooldown timestamp.

*/

package engine

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/keeperlabs/reallocator/internal/balancer"
	"github.com/keeperlabs/reallocator/internal/fees"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/policy"
	"github.com/keeperlabs/reallocator/internal/pricing"
	"github.com/keeperlabs/reallocator/internal/types"
)

// Skip reasons reported on no-action outcomes.
const (
	ReasonPaused          = "paused"
	ReasonCooldown        = "cooldown"
	ReasonAllocated       = "already_allocated"
	ReasonUncertainPrice  = "price_uncertain_near_boundary"
	ReasonBelowMoveThresh = "price_move_below_threshold"
	ReasonRebalanced      = "rebalanced"
)

// Outcome reports what a rebalance evaluation did.
type Outcome struct {
	Decision policy.Decision `json:"decision"`
	Reason   string          `json:"reason"`
	Price    sdkmath.Int     `json:"price"`
	Tick     uint64          `json:"tick"`

	// Swapped is the balancing trade executed before LP entry, nil when the
	// rebalance needed none or took no action.
	Swapped *balancer.Swap `json:"swapped,omitempty"`
}

// Rebalance evaluates the policy for one position and executes the resulting
// move. The owner and the configured keeper identity may call it. A NoAction
// outcome is a success with the reason set; only venue or accounting failures
// return an error, and those leave the position untouched.
func (e *Engine) Rebalance(caller string, key types.PositionKey) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, true)
	if err != nil {
		return Outcome{}, err
	}

	// Paused wins before any oracle interaction.
	if pos.Paused {
		return Outcome{Decision: policy.NoAction, Reason: ReasonPaused, Tick: e.clock.Now()}, nil
	}

	now := e.clock.Now()

	quote, err := e.oracle.Latest()
	if err != nil {
		return Outcome{}, errors.Join(ErrExternalCallFailed, err)
	}
	if err := quote.Validate(); err != nil {
		return Outcome{}, errors.Join(ErrExternalCallFailed, err)
	}
	if e.params.MaxPriceAgeTicks > 0 && quote.IsStale(now, e.params.MaxPriceAgeTicks) {
		return Outcome{}, errors.Join(ErrExternalCallFailed,
			fmt.Errorf("%w: published at tick %d, now %d", pricing.ErrStalePrice, quote.PublishTick, now))
	}

	verdict := pricing.Classify(quote.Price, quote.Confidence, pos.RangeMin, pos.RangeMax)

	ticksSince := uint64(0)
	if now > pos.LastRebalanceTick {
		ticksSince = now - pos.LastRebalanceTick
	}

	decision := policy.Decide(
		verdict,
		pos.HasIdle(), pos.HasLP(), pos.HasLending(),
		pos.Paused,
		ticksSince, e.params.MinTicksBetweenRebalances,
	)

	outcome := Outcome{Decision: decision, Price: quote.Price, Tick: now}

	if decision == policy.NoAction {
		if ticksSince < e.params.MinTicksBetweenRebalances {
			outcome.Reason = ReasonCooldown
		} else {
			outcome.Reason = ReasonAllocated
		}
		return outcome, nil
	}

	// Dampeners: skip moves the price signal does not firmly support.
	if e.params.UseConfidenceBand &&
		pricing.StraddlesBoundary(quote.Price, quote.Confidence, pos.RangeMin, pos.RangeMax) {
		outcome.Decision = policy.NoAction
		outcome.Reason = ReasonUncertainPrice
		return outcome, nil
	}
	if !policy.MeetsMoveThreshold(pos.LastRebalancePrice, quote.Price, e.params.MinPriceMoveBps) {
		outcome.Decision = policy.NoAction
		outcome.Reason = ReasonBelowMoveThresh
		return outcome, nil
	}

	staged := pos.Balances.Clone()
	newHandle := pos.LPHandle

	switch decision {
	case policy.MoveToLiquidity:
		newHandle, outcome.Swapped, err = e.moveToLiquidity(&staged, pos, quote.Price)
	case policy.MoveToLending:
		newHandle, err = e.moveToLending(&staged, pos)
	}
	if err != nil {
		e.log.Error().Err(err).
			Str("position", key.String()).
			Str("decision", decision.String()).
			Msg("Rebalance failed, position left unchanged")
		return Outcome{}, err
	}

	// Every venue call succeeded; commit the staged ledger.
	pos.Balances = staged
	pos.LPHandle = newHandle
	pos.LastRebalanceTick = now
	pos.LastRebalancePrice = quote.Price
	pos.TotalRebalances++
	outcome.Reason = ReasonRebalanced

	e.log.Info().
		Str("position", key.String()).
		Str("decision", decision.String()).
		Str("price", quote.Price.String()).
		Uint64("tick", now).
		Msg("Rebalance committed")

	return outcome, nil
}

// moveToLiquidity consolidates lending and idle funds into the liquidity
// venue: withdraw from lending, run the balancing swap, open the LP position.
// An existing LP position is closed first so the venue holds a single
// position covering all funds.
func (e *Engine) moveToLiquidity(staged *ledger.Balances, pos *types.Position, price sdkmath.Int) (string, *balancer.Swap, error) {
	handle := pos.LPHandle
	if handle != "" {
		if err := e.closeLP(staged, handle); err != nil {
			return "", nil, err
		}
		handle = ""
	}

	for _, token := range []ledger.Token{ledger.TokenA, ledger.TokenB} {
		lent := staged.Balance(ledger.LocationLending, token)
		if !lent.IsPositive() {
			continue
		}
		released, err := e.lending.Withdraw(token, lent)
		if err != nil {
			return "", nil, errors.Join(ErrExternalCallFailed, err)
		}
		if _, err := staged.Debit(ledger.LocationLending, token, lent); err != nil {
			return "", nil, err
		}
		// The venue-reported amount is the truth for what came back.
		if _, err := staged.Credit(ledger.LocationIdle, token, released); err != nil {
			return "", nil, err
		}
	}

	swap, err := e.balanceIdle(staged, price)
	if err != nil {
		return "", nil, err
	}

	idleA := staged.Balance(ledger.LocationIdle, ledger.TokenA)
	idleB := staged.Balance(ledger.LocationIdle, ledger.TokenB)
	if idleA.IsZero() && idleB.IsZero() {
		return handle, swap, nil
	}

	newHandle, err := e.liquidity.OpenPosition(idleA, idleB, pos.RangeMin, pos.RangeMax)
	if err != nil {
		return "", nil, errors.Join(ErrExternalCallFailed, err)
	}
	if idleA.IsPositive() {
		if err := staged.Move(ledger.LocationIdle, ledger.LocationLP, ledger.TokenA, idleA); err != nil {
			return "", nil, err
		}
	}
	if idleB.IsPositive() {
		if err := staged.Move(ledger.LocationIdle, ledger.LocationLP, ledger.TokenB, idleB); err != nil {
			return "", nil, err
		}
	}
	return newHandle, swap, nil
}

// balanceIdle runs the single swap that equalizes the USD value of the idle
// balances. Output below the slippage-adjusted minimum is a hard failure.
func (e *Engine) balanceIdle(staged *ledger.Balances, price sdkmath.Int) (*balancer.Swap, error) {
	idleA := staged.Balance(ledger.LocationIdle, ledger.TokenA)
	idleB := staged.Balance(ledger.LocationIdle, ledger.TokenB)

	swap, err := balancer.Compute(idleA, idleB, price)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return nil, nil
	}

	expected := balancer.ExpectedOut(*swap, price)
	tolerance := sdkmath.NewInt(int64(fees.BpsDenominator - int(e.params.SwapSlippageBps)))
	minOut := expected.Mul(tolerance).Quo(sdkmath.NewInt(fees.BpsDenominator))

	out, err := e.swapper.Swap(swap.TokenIn, swap.AmountIn, minOut)
	if err != nil {
		return nil, errors.Join(ErrExternalCallFailed, err)
	}
	if out.IsNil() || out.LT(minOut) {
		return nil, errors.Join(ErrExternalCallFailed,
			fmt.Errorf("swap output %v below minimum %s", out, minOut))
	}

	if _, err := staged.Debit(ledger.LocationIdle, swap.TokenIn, swap.AmountIn); err != nil {
		return nil, err
	}
	if _, err := staged.Credit(ledger.LocationIdle, swap.TokenOut, out); err != nil {
		return nil, err
	}
	return swap, nil
}

// moveToLending consolidates LP and idle funds into the lending venue.
func (e *Engine) moveToLending(staged *ledger.Balances, pos *types.Position) (string, error) {
	if pos.LPHandle != "" {
		if err := e.closeLP(staged, pos.LPHandle); err != nil {
			return "", err
		}
	}

	for _, token := range []ledger.Token{ledger.TokenA, ledger.TokenB} {
		idle := staged.Balance(ledger.LocationIdle, token)
		if !idle.IsPositive() {
			continue
		}
		if err := e.lending.Deposit(token, idle); err != nil {
			return "", errors.Join(ErrExternalCallFailed, err)
		}
		if err := staged.Move(ledger.LocationIdle, ledger.LocationLending, token, idle); err != nil {
			return "", err
		}
	}
	return "", nil
}

// closeLP unwinds the liquidity position behind handle into the staged idle
// balances. The recorded LP balances are debited in full and the amounts the
// venue actually returned are credited, so venue-side rounding surfaces in
// the ledger instead of silently drifting.
func (e *Engine) closeLP(staged *ledger.Balances, handle string) error {
	outA, outB, err := e.liquidity.ClosePosition(handle)
	if err != nil {
		return errors.Join(ErrExternalCallFailed, err)
	}

	for _, held := range []struct {
		token    ledger.Token
		returned sdkmath.Int
	}{
		{ledger.TokenA, outA},
		{ledger.TokenB, outB},
	} {
		recorded := staged.Balance(ledger.LocationLP, held.token)
		if recorded.IsPositive() {
			if _, err := staged.Debit(ledger.LocationLP, held.token, recorded); err != nil {
				return err
			}
		}
		if !held.returned.IsNil() && held.returned.IsPositive() {
			if _, err := staged.Credit(ledger.LocationIdle, held.token, held.returned); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckStatus is the read-only variant of Rebalance: it classifies the
// current oracle price against the position's range and reports where funds
// sit, without mutating anything or touching the cooldown.
func (e *Engine) CheckStatus(caller string, key types.PositionKey) (types.PositionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.authorizedPosition(caller, key, true)
	if err != nil {
		return types.PositionStatus{}, err
	}

	quote, err := e.oracle.Latest()
	if err != nil {
		return types.PositionStatus{}, errors.Join(ErrExternalCallFailed, err)
	}
	if err := quote.Validate(); err != nil {
		return types.PositionStatus{}, errors.Join(ErrExternalCallFailed, err)
	}

	verdict := pricing.Classify(quote.Price, quote.Confidence, pos.RangeMin, pos.RangeMax)
	return types.PositionStatus{
		Key:          key,
		Price:        quote.Price,
		Confidence:   quote.Confidence,
		Verdict:      verdict,
		VerdictLabel: verdict.String(),
		Paused:       pos.Paused,
		HasIdle:      pos.HasIdle(),
		HasLP:        pos.HasLP(),
		HasLending:   pos.HasLending(),
		TotalA:       pos.Balances.Total(ledger.TokenA),
		TotalB:       pos.Balances.Total(ledger.TokenB),
	}, nil
}
