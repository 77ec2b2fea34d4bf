/*

This file contains the basis-point fee calculator used on every deposit and
withdraw flow. The split is exact: net + fee always reconstructs the gross
amount, with the fee floored.

*/

package fees

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

const (
	// BpsDenominator is the basis-point scale (100% = 10_000 bps).
	BpsDenominator = 10_000

	// MaxFeeBps caps the protocol fee at 10%.
	MaxFeeBps = 1_000
)

// Error definitions for zero-tolerance error handling
var (
	ErrFeeTooHigh    = errors.New("fee exceeds maximum basis points")
	ErrInvalidAmount = errors.New("gross amount is nil or negative")
)

var bpsDenom = sdkmath.NewInt(BpsDenominator)

// Split is the result of applying a fee to a gross amount.
type Split struct {
	Net sdkmath.Int `json:"net"`
	Fee sdkmath.Int `json:"fee"`
}

// ValidateFeeBps checks a fee rate at protocol-config creation time. Rates
// are immutable afterwards, so individual splits never re-validate.
func ValidateFeeBps(feeBps uint32) error {
	if feeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps (max %d)", ErrFeeTooHigh, feeBps, MaxFeeBps)
	}
	return nil
}

// SplitDeposit extracts the protocol fee from a gross deposit:
// fee = floor(gross * feeBps / 10000), net = gross - fee.
func SplitDeposit(gross sdkmath.Int, feeBps uint32) (Split, error) {
	return split(gross, feeBps)
}

// SplitWithdraw applies the same formula to a gross withdrawal amount; the
// net goes to the withdrawer, the fee to the protocol recipient.
func SplitWithdraw(gross sdkmath.Int, feeBps uint32) (Split, error) {
	return split(gross, feeBps)
}

func split(gross sdkmath.Int, feeBps uint32) (Split, error) {
	if gross.IsNil() || gross.IsNegative() {
		return Split{}, fmt.Errorf("%w: %v", ErrInvalidAmount, gross)
	}
	// Quo truncates toward zero, which on non-negative operands is the
	// required floor.
	fee := gross.Mul(sdkmath.NewInt(int64(feeBps))).Quo(bpsDenom)
	net := gross.Sub(fee)
	return Split{Net: net, Fee: fee}, nil
}
