/*

This file contains an in-process, deterministic implementation of the four
venue collaborators. It moves exact amounts with no slippage, which is what
the engine's accounting assumes at venue boundaries; it exists for sim-mode
runs and for exercising the lifecycle manager end to end.

*/

package venue

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/pricing"
	"github.com/rs/zerolog"

	"github.com/keeperlabs/reallocator/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrUnknownHandle    = errors.New("unknown LP position handle")
	ErrSlippageExceeded = errors.New("swap output below minimum")
	ErrLendingShortfall = errors.New("lending venue holds less than requested")
)

// SimClock is a manually advanced logical clock.
type SimClock struct {
	mu   sync.Mutex
	tick uint64
}

// NewSimClock starts a clock at the given tick.
func NewSimClock(start uint64) *SimClock {
	return &SimClock{tick: start}
}

// Now returns the current tick.
func (c *SimClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Advance moves the clock forward by delta ticks.
func (c *SimClock) Advance(delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += delta
}

// SimOracle serves a settable quote stamped with the clock's current tick.
type SimOracle struct {
	mu         sync.Mutex
	clock      *SimClock
	price      sdkmath.Int
	confidence sdkmath.Int
	failNext   error
}

// NewSimOracle returns an oracle quoting the given micro-USD price.
func NewSimOracle(clock *SimClock, price, confidence sdkmath.Int) *SimOracle {
	return &SimOracle{clock: clock, price: price, confidence: confidence}
}

// SetPrice updates the served price and confidence.
func (o *SimOracle) SetPrice(price, confidence sdkmath.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price
	o.confidence = confidence
}

// FailNext makes the next Latest call return err once.
func (o *SimOracle) FailNext(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failNext = err
}

// Latest implements Oracle.
func (o *SimOracle) Latest() (pricing.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failNext != nil {
		err := o.failNext
		o.failNext = nil
		return pricing.Quote{}, err
	}
	return pricing.Quote{
		Price:       o.price,
		Confidence:  o.confidence,
		PublishTick: o.clock.Now(),
	}, nil
}

// SimVenues implements LiquidityVenue, LendingVenue and SwapAggregator with
// exact bookkeeping and a configurable failure hook per call site.
type SimVenues struct {
	mu     sync.Mutex
	log    zerolog.Logger
	oracle *SimOracle

	nextHandle  uint64
	lpPositions map[string][2]sdkmath.Int // handle -> [amountA, amountB]
	lendingBook [2]sdkmath.Int            // per-token deposits

	failNext map[string]error // call name -> error served once
}

// NewSimVenues creates a simulator pricing swaps off the given oracle.
func NewSimVenues(oracle *SimOracle) *SimVenues {
	return &SimVenues{
		log:         logger.GetForComponent("sim_venues"),
		oracle:      oracle,
		lpPositions: make(map[string][2]sdkmath.Int),
		lendingBook: [2]sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()},
		failNext:    make(map[string]error),
	}
}

// FailNext arms a one-shot failure for the named call: "open_lp", "close_lp",
// "lend_deposit", "lend_withdraw" or "swap".
func (v *SimVenues) FailNext(call string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext[call] = err
}

func (v *SimVenues) takeFailure(call string) error {
	if err, ok := v.failNext[call]; ok {
		delete(v.failNext, call)
		return err
	}
	return nil
}

// OpenPosition implements LiquidityVenue.
func (v *SimVenues) OpenPosition(amountA, amountB, rangeMin, rangeMax sdkmath.Int) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("open_lp"); err != nil {
		return "", err
	}
	v.nextHandle++
	handle := fmt.Sprintf("sim-lp-%d", v.nextHandle)
	v.lpPositions[handle] = [2]sdkmath.Int{amountA, amountB}
	v.log.Debug().
		Str("handle", handle).
		Str("amountA", amountA.String()).
		Str("amountB", amountB.String()).
		Msg("Opened simulated LP position")
	return handle, nil
}

// ClosePosition implements LiquidityVenue. The simulator returns exactly what
// was deposited.
func (v *SimVenues) ClosePosition(handle string) (sdkmath.Int, sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("close_lp"); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	amounts, ok := v.lpPositions[handle]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	delete(v.lpPositions, handle)
	v.log.Debug().Str("handle", handle).Msg("Closed simulated LP position")
	return amounts[0], amounts[1], nil
}

// Deposit implements LendingVenue.
func (v *SimVenues) Deposit(token ledger.Token, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("lend_deposit"); err != nil {
		return err
	}
	v.lendingBook[token] = v.lendingBook[token].Add(amount)
	return nil
}

// Withdraw implements LendingVenue, releasing exactly the requested amount.
func (v *SimVenues) Withdraw(token ledger.Token, amount sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("lend_withdraw"); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if amount.GT(v.lendingBook[token]) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: requested %s, held %s",
			ErrLendingShortfall, amount, v.lendingBook[token])
	}
	v.lendingBook[token] = v.lendingBook[token].Sub(amount)
	return amount, nil
}

// Swap implements SwapAggregator at the oracle price with zero slippage.
func (v *SimVenues) Swap(tokenIn ledger.Token, amountIn, minOut sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.takeFailure("swap"); err != nil {
		return sdkmath.ZeroInt(), err
	}
	quote, err := v.oracle.Latest()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	scale := sdkmath.NewInt(pricing.PriceScale)
	var out sdkmath.Int
	if tokenIn == ledger.TokenA {
		out = amountIn.Mul(scale).Quo(quote.Price)
	} else {
		out = amountIn.Mul(quote.Price).Quo(scale)
	}
	if out.LT(minOut) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: out %s < min %s", ErrSlippageExceeded, out, minOut)
	}
	return out, nil
}
