// ./internal/state/receipt_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keeperlabs/reallocator/internal/types"
)

// SaveRebalanceReceipt persists one per-position rebalance outcome.
func SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO rebalance_receipts (
			sweep_id, owner, position_id, decision, reason, success, message, price, tick, receipt_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(query,
		receipt.SweepID, receipt.Key.Owner, receipt.Key.PositionID,
		receipt.Decision, receipt.Reason, receipt.Success, receipt.Message,
		receipt.Price.String(), receipt.Tick, receipt.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance receipt: %w", err)
	}
	return receiptID, nil
}

// SaveSweepSnapshot persists the summary of one keeper pass, receipts
// embedded as JSONB.
func SaveSweepSnapshot(snapshot types.SweepSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	receiptsJSON, err := json.Marshal(snapshot.Receipts)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal receipts: %w", err)
	}

	query := `
		INSERT INTO sweep_snapshots (
			sweep_number, sweep_id, snapshot_timestamp,
			positions_seen, positions_moved, positions_unchanged, failures, receipts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(query,
		snapshot.SweepNumber, snapshot.SweepID, snapshot.Timestamp,
		snapshot.PositionsSeen, snapshot.PositionsMoved, snapshot.PositionsUnchanged,
		snapshot.Failures, receiptsJSON,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save sweep snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("sweep_number", snapshot.SweepNumber).
		Int("positions_moved", snapshot.PositionsMoved).
		Msg("Sweep snapshot saved to database")

	return snapshotID, nil
}

// GetRecentReceipts returns the newest rebalance receipts, most recent first.
func GetRecentReceipts(limit int) ([]types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT receipt_id, sweep_id, owner, position_id, decision, reason, success, message, price, tick, receipt_timestamp
		FROM rebalance_receipts
		ORDER BY receipt_id DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.RebalanceReceipt
	for rows.Next() {
		var (
			r     types.RebalanceReceipt
			price string
			ts    time.Time
		)
		err := rows.Scan(
			&r.ReceiptID, &r.SweepID, &r.Key.Owner, &r.Key.PositionID,
			&r.Decision, &r.Reason, &r.Success, &r.Message, &price, &r.Tick, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rebalance receipt: %w", err)
		}
		if r.Price, err = parseStoredInt(price); err != nil {
			return nil, fmt.Errorf("invalid price on receipt %d: %w", r.ReceiptID, err)
		}
		r.Timestamp = ts
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating rebalance receipts: %w", err)
	}
	return receipts, nil
}
