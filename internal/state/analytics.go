// ./internal/state/analytics.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/keeperlabs/reallocator/internal/types"
)

// ProtocolSummary represents high-level protocol statistics for the API.
type ProtocolSummary struct {
	TotalPositions int    `json:"total_positions"`
	TotalUsers     int    `json:"total_users"`
	TotalSweeps    int    `json:"total_sweeps"`
	TotalReceipts  int    `json:"total_receipts"`
	LastSweepAt    string `json:"last_sweep_at"`
}

// SweepMetrics represents aggregated keeper outcomes across all sweeps.
type SweepMetrics struct {
	TotalSweeps      int `json:"total_sweeps"`
	PositionsMoved   int `json:"positions_moved"`
	TotalFailures    int `json:"total_failures"`
	SuccessfulMoves  int `json:"successful_moves"`
	SkippedUnchanged int `json:"skipped_unchanged"`
}

// GetRecentSweeps retrieves recent sweep snapshots with pagination.
func GetRecentSweeps(limit int) ([]types.SweepSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10
	}

	query := `
		SELECT sweep_number, sweep_id, snapshot_timestamp,
		       positions_seen, positions_moved, positions_unchanged, failures, receipts
		FROM sweep_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent sweeps")
		return nil, fmt.Errorf("failed to query recent sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []types.SweepSnapshot
	for rows.Next() {
		var (
			s            types.SweepSnapshot
			receiptsJSON []byte
		)
		err := rows.Scan(
			&s.SweepNumber, &s.SweepID, &s.Timestamp,
			&s.PositionsSeen, &s.PositionsMoved, &s.PositionsUnchanged, &s.Failures,
			&receiptsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sweep snapshot: %w", err)
		}
		if err := json.Unmarshal(receiptsJSON, &s.Receipts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipts for sweep %d: %w", s.SweepNumber, err)
		}
		sweeps = append(sweeps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating sweep snapshots: %w", err)
	}
	return sweeps, nil
}

// GetProtocolSummary aggregates counts for the status API.
func GetProtocolSummary() (*ProtocolSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &ProtocolSummary{}

	err := DB.QueryRow(`SELECT COUNT(*) FROM positions;`).Scan(&summary.TotalPositions)
	if err != nil {
		return nil, fmt.Errorf("failed to count positions: %w", err)
	}
	err = DB.QueryRow(`SELECT COUNT(*) FROM user_accounts;`).Scan(&summary.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to count user accounts: %w", err)
	}
	err = DB.QueryRow(`SELECT COUNT(*) FROM rebalance_receipts;`).Scan(&summary.TotalReceipts)
	if err != nil {
		return nil, fmt.Errorf("failed to count receipts: %w", err)
	}

	var lastSweepAt sql.NullString
	err = DB.QueryRow(`
		SELECT COUNT(*), MAX(snapshot_timestamp)::TEXT FROM sweep_snapshots;
	`).Scan(&summary.TotalSweeps, &lastSweepAt)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize sweeps: %w", err)
	}
	if lastSweepAt.Valid {
		summary.LastSweepAt = lastSweepAt.String
	}

	return summary, nil
}

// GetSweepMetrics aggregates keeper outcomes across all recorded sweeps.
func GetSweepMetrics() (*SweepMetrics, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	metrics := &SweepMetrics{}

	err := DB.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(positions_moved), 0),
		       COALESCE(SUM(positions_unchanged), 0),
		       COALESCE(SUM(failures), 0)
		FROM sweep_snapshots;
	`).Scan(&metrics.TotalSweeps, &metrics.PositionsMoved, &metrics.SkippedUnchanged, &metrics.TotalFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sweep metrics: %w", err)
	}

	err = DB.QueryRow(`SELECT COUNT(*) FROM rebalance_receipts WHERE success = TRUE AND decision <> 'no_action';`).
		Scan(&metrics.SuccessfulMoves)
	if err != nil {
		return nil, fmt.Errorf("failed to count successful moves: %w", err)
	}

	return metrics, nil
}
