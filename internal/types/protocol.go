/*

This file contains the protocol-wide and per-user account state. Both are
explicit state objects handed to the lifecycle manager, never ambient
globals, so tests inject a fresh pair per case.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// ProtocolConfig is the process-wide singleton created once at protocol
// initialization. The fee rate is immutable after creation.
type ProtocolConfig struct {
	FeeRecipient string `json:"fee_recipient"`
	FeeBps       uint32 `json:"fee_bps"` // 0..1000, validated at creation

	// TotalPositions counts currently open positions across all users;
	// incremented on create, decremented on close.
	TotalPositions uint64 `json:"total_positions"`

	// Cumulative protocol fees routed to the fee recipient, per token.
	FeesCollectedA sdkmath.Int `json:"fees_collected_a"`
	FeesCollectedB sdkmath.Int `json:"fees_collected_b"`
}

// UserAccount tracks one owner's positions. Created on first interaction and
// never destroyed; the lifetime counter is append-only and doubles as the
// source of the next expected position ID.
type UserAccount struct {
	Owner string `json:"owner"`

	OpenPositions   uint64 `json:"open_positions"`
	LifetimeCreated uint64 `json:"lifetime_created"`
}

// NextPositionID is the sequence number the user's next CreatePosition must
// carry. IDs are gapless and strictly increasing per user.
func (u *UserAccount) NextPositionID() uint64 {
	return u.LifetimeCreated + 1
}
