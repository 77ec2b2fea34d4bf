/*

This file contains the fixed-point ledger for a position's token balances.
Every amount is an exact integer (sdkmath.Int) capped at the unsigned 64-bit
width; nothing in here ever touches floating point.

*/

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOverflow            = errors.New("amount exceeds 64-bit fixed-point width")
	ErrInvalidAmount       = errors.New("amount is nil or negative")
	ErrUnknownToken        = errors.New("unknown token")
	ErrUnknownLocation     = errors.New("unknown fund location")
)

// Token identifies one of the two tokens a position accounts for.
type Token uint8

const (
	TokenA Token = iota
	TokenB
	numTokens
)

func (t Token) String() string {
	switch t {
	case TokenA:
		return "token_a"
	case TokenB:
		return "token_b"
	default:
		return fmt.Sprintf("token(%d)", uint8(t))
	}
}

// Location identifies where a token balance currently sits.
type Location uint8

const (
	LocationIdle Location = iota // held in the position's own vault
	LocationLP                   // deployed to the liquidity venue
	LocationLending              // deployed to the lending venue
	numLocations
)

func (l Location) String() string {
	switch l {
	case LocationIdle:
		return "idle"
	case LocationLP:
		return "lp"
	case LocationLending:
		return "lending"
	default:
		return fmt.Sprintf("location(%d)", uint8(l))
	}
}

// maxBalance is the largest representable balance. The accounting model is
// unsigned 64-bit fixed point; sdkmath.Int is arbitrary precision, so the
// width is enforced here instead of by wrapping.
var maxBalance = sdkmath.NewIntFromUint64(math.MaxUint64)

// Balances holds the six per-location, per-token balances of one position.
// The zero value is not usable; call NewBalances.
type Balances struct {
	amounts [numTokens][numLocations]sdkmath.Int
}

// NewBalances returns a ledger with all six balances at zero.
func NewBalances() Balances {
	var b Balances
	for t := range b.amounts {
		for l := range b.amounts[t] {
			b.amounts[t][l] = sdkmath.ZeroInt()
		}
	}
	return b
}

// Clone returns an independent copy. Used by staged rebalance execution so
// venue failures leave the committed balances untouched.
func (b Balances) Clone() Balances {
	c := NewBalances()
	for t := range b.amounts {
		for l := range b.amounts[t] {
			c.amounts[t][l] = b.amounts[t][l]
		}
	}
	return c
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() {
		return fmt.Errorf("%w: nil", ErrInvalidAmount)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func validateSlot(token Token, location Location) error {
	if token >= numTokens {
		return fmt.Errorf("%w: %d", ErrUnknownToken, token)
	}
	if location >= numLocations {
		return fmt.Errorf("%w: %d", ErrUnknownLocation, location)
	}
	return nil
}

// Balance returns the current balance for one token at one location.
func (b *Balances) Balance(location Location, token Token) sdkmath.Int {
	if err := validateSlot(token, location); err != nil {
		return sdkmath.ZeroInt()
	}
	return b.amounts[token][location]
}

// Credit adds amount to the balance at location and returns the new balance.
// Fails with ErrOverflow if the result would exceed the 64-bit width.
func (b *Balances) Credit(location Location, token Token, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := validateSlot(token, location); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := validateAmount(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	next := b.amounts[token][location].Add(amount)
	if next.GT(maxBalance) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s at %s/%s", ErrOverflow, next, location, token)
	}
	b.amounts[token][location] = next
	return next, nil
}

// Debit removes amount from the balance at location and returns the new
// balance. Fails with ErrInsufficientBalance when amount exceeds the current
// balance; the balance is never clamped.
func (b *Balances) Debit(location Location, token Token, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := validateSlot(token, location); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if err := validateAmount(amount); err != nil {
		return sdkmath.ZeroInt(), err
	}
	current := b.amounts[token][location]
	if amount.GT(current) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: debit %s from %s at %s/%s",
			ErrInsufficientBalance, amount, current, location, token)
	}
	next := current.Sub(amount)
	b.amounts[token][location] = next
	return next, nil
}

// Move transfers amount between two locations of the same token, implemented
// as debit-then-credit. The per-token total is unchanged on success; on any
// error the ledger is left exactly as it was.
func (b *Balances) Move(from, to Location, token Token, amount sdkmath.Int) error {
	if from == to {
		return nil
	}
	if _, err := b.Debit(from, token, amount); err != nil {
		return err
	}
	if _, err := b.Credit(to, token, amount); err != nil {
		// Undo the debit so a failed move is not observable. The credit can
		// only fail on overflow since the amount was already validated.
		b.amounts[token][from] = b.amounts[token][from].Add(amount)
		return err
	}
	return nil
}

// Total returns the per-token sum across all three locations. The sum of
// three sub-uint64 balances cannot overflow sdkmath.Int.
func (b *Balances) Total(token Token) sdkmath.Int {
	if token >= numTokens {
		return sdkmath.ZeroInt()
	}
	total := sdkmath.ZeroInt()
	for _, amount := range b.amounts[token] {
		total = total.Add(amount)
	}
	return total
}

// balancesJSON is the wire/persistence shape of the six balances.
type balancesJSON struct {
	TokenAIdle   sdkmath.Int `json:"token_a_idle"`
	TokenBIdle   sdkmath.Int `json:"token_b_idle"`
	TokenAInLP   sdkmath.Int `json:"token_a_in_lp"`
	TokenBInLP   sdkmath.Int `json:"token_b_in_lp"`
	TokenAInLend sdkmath.Int `json:"token_a_in_lending"`
	TokenBInLend sdkmath.Int `json:"token_b_in_lending"`
}

// MarshalJSON flattens the six balances into named fields.
func (b Balances) MarshalJSON() ([]byte, error) {
	return json.Marshal(balancesJSON{
		TokenAIdle:   b.amounts[TokenA][LocationIdle],
		TokenBIdle:   b.amounts[TokenB][LocationIdle],
		TokenAInLP:   b.amounts[TokenA][LocationLP],
		TokenBInLP:   b.amounts[TokenB][LocationLP],
		TokenAInLend: b.amounts[TokenA][LocationLending],
		TokenBInLend: b.amounts[TokenB][LocationLending],
	})
}

// UnmarshalJSON restores balances from the flattened shape.
func (b *Balances) UnmarshalJSON(data []byte) error {
	var raw balancesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = NewBalances()
	for _, entry := range []struct {
		token    Token
		location Location
		amount   sdkmath.Int
	}{
		{TokenA, LocationIdle, raw.TokenAIdle},
		{TokenB, LocationIdle, raw.TokenBIdle},
		{TokenA, LocationLP, raw.TokenAInLP},
		{TokenB, LocationLP, raw.TokenBInLP},
		{TokenA, LocationLending, raw.TokenAInLend},
		{TokenB, LocationLending, raw.TokenBInLend},
	} {
		if entry.amount.IsNil() {
			continue
		}
		if err := validateAmount(entry.amount); err != nil {
			return err
		}
		if entry.amount.GT(maxBalance) {
			return fmt.Errorf("%w: %s at %s/%s", ErrOverflow, entry.amount, entry.location, entry.token)
		}
		b.amounts[entry.token][entry.location] = entry.amount
	}
	return nil
}

// IsEmpty reports whether all six balances are exactly zero. ClosePosition
// requires this.
func (b *Balances) IsEmpty() bool {
	for t := range b.amounts {
		for l := range b.amounts[t] {
			if !b.amounts[t][l].IsZero() {
				return false
			}
		}
	}
	return true
}
