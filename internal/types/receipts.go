/*

This file contains the receipt and sweep-snapshot types the keeper persists
after every rebalance pass.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// RebalanceReceipt records the outcome of one rebalance attempt against one
// position during a keeper sweep.
type RebalanceReceipt struct {
	ReceiptID int64       `json:"receipt_id,omitempty"` // auto-incremented by DB
	SweepID   string      `json:"sweep_id"`
	Key       PositionKey `json:"position"`
	Decision  string      `json:"decision"`
	Reason    string      `json:"reason,omitempty"`
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Price     sdkmath.Int `json:"price"`
	Tick      uint64      `json:"tick"`
	Timestamp time.Time   `json:"timestamp"`
}

// SweepSnapshot summarizes one full keeper pass over all positions.
type SweepSnapshot struct {
	SweepNumber int       `json:"sweep_number"`
	SweepID     string    `json:"sweep_id"`
	Timestamp   time.Time `json:"timestamp"`

	PositionsSeen      int `json:"positions_seen"`
	PositionsMoved     int `json:"positions_moved"`
	PositionsUnchanged int `json:"positions_unchanged"`
	Failures           int `json:"failures"`

	Receipts []RebalanceReceipt `json:"receipts"`
}
