/*

This file manages the persistent global sweep counter for the keeper.
The counter is stored in the database to ensure continuity across restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureSweepCounterTable creates the sweep_counter table if it doesn't exist
func ensureSweepCounterTable() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS sweep_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_sweep INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO sweep_counter (id, current_sweep)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	_, err := DB.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create sweep_counter table: %w", err)
	}

	log.Debug().Msg("Ensured sweep_counter table exists")
	return nil
}

// GetCurrentSweepNumber retrieves the current sweep number from the database
func GetCurrentSweepNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `SELECT current_sweep FROM sweep_counter WHERE id = 1;`

	var currentSweep int
	row := DB.QueryRow(query)
	err := row.Scan(&currentSweep)

	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Msg("No sweep counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current sweep number: %w", err)
	}

	return currentSweep, nil
}

// IncrementSweepNumber increments the sweep counter and returns the new value
func IncrementSweepNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE sweep_counter
		SET current_sweep = current_sweep + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_sweep;
	`

	var newSweep int
	err := DB.QueryRow(query).Scan(&newSweep)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sweep number: %w", err)
	}

	log.Debug().Int("newSweep", newSweep).Msg("Incremented sweep number")
	return newSweep, nil
}
