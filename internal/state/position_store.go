// ./internal/state/position_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/keeperlabs/reallocator/internal/ledger"
	"github.com/keeperlabs/reallocator/internal/types"
)

// UpsertPosition writes one position row. Balances are stored as JSONB, the
// fixed-point fields as NUMERIC text.
func UpsertPosition(pos types.Position) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	balancesJSON, err := json.Marshal(pos.Balances)
	if err != nil {
		return fmt.Errorf("failed to marshal balances for %s: %w", pos.Key(), err)
	}

	query := `
		INSERT INTO positions (
			owner, position_id, range_min, range_max, balances, paused, lp_handle,
			created_at_tick, last_rebalance_tick, last_rebalance_price, total_rebalances, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (owner, position_id) DO UPDATE SET
			range_min = EXCLUDED.range_min,
			range_max = EXCLUDED.range_max,
			balances = EXCLUDED.balances,
			paused = EXCLUDED.paused,
			lp_handle = EXCLUDED.lp_handle,
			created_at_tick = EXCLUDED.created_at_tick,
			last_rebalance_tick = EXCLUDED.last_rebalance_tick,
			last_rebalance_price = EXCLUDED.last_rebalance_price,
			total_rebalances = EXCLUDED.total_rebalances,
			updated_at = CURRENT_TIMESTAMP;
	`

	_, err = DB.Exec(query,
		pos.Owner, pos.PositionID,
		pos.RangeMin.String(), pos.RangeMax.String(), balancesJSON,
		pos.Paused, pos.LPHandle,
		pos.CreatedAtTick, pos.LastRebalanceTick,
		pos.LastRebalancePrice.String(), pos.TotalRebalances,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w", pos.Key(), err)
	}
	return nil
}

// DeletePosition removes a closed position row.
func DeletePosition(key types.PositionKey) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := DB.Exec(`DELETE FROM positions WHERE owner = $1 AND position_id = $2;`, key.Owner, key.PositionID); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", key, err)
	}
	return nil
}

// LoadAllPositions reads every open position row.
func LoadAllPositions() ([]types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT owner, position_id, range_min, range_max, balances, paused, lp_handle,
		       created_at_tick, last_rebalance_tick, last_rebalance_price, total_rebalances
		FROM positions ORDER BY owner, position_id;
	`
	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var (
			pos                           types.Position
			rangeMin, rangeMax, lastPrice string
			balancesJSON                  []byte
		)
		err := rows.Scan(
			&pos.Owner, &pos.PositionID, &rangeMin, &rangeMax, &balancesJSON,
			&pos.Paused, &pos.LPHandle,
			&pos.CreatedAtTick, &pos.LastRebalanceTick, &lastPrice, &pos.TotalRebalances,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}

		if pos.RangeMin, err = parseStoredInt(rangeMin); err != nil {
			return nil, fmt.Errorf("invalid range_min for %s: %w", pos.Key(), err)
		}
		if pos.RangeMax, err = parseStoredInt(rangeMax); err != nil {
			return nil, fmt.Errorf("invalid range_max for %s: %w", pos.Key(), err)
		}
		if pos.LastRebalancePrice, err = parseStoredInt(lastPrice); err != nil {
			return nil, fmt.Errorf("invalid last_rebalance_price for %s: %w", pos.Key(), err)
		}

		pos.Balances = ledger.NewBalances()
		if err := json.Unmarshal(balancesJSON, &pos.Balances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balances for %s: %w", pos.Key(), err)
		}

		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating positions: %w", err)
	}

	log.Info().Int("count", len(positions)).Msg("Loaded positions from database")
	return positions, nil
}
