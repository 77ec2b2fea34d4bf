// ./internal/state/protocol_store.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/keeperlabs/reallocator/internal/types"
)

// SaveProtocolConfig upserts the protocol config singleton row.
func SaveProtocolConfig(cfg types.ProtocolConfig) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO protocol_config (id, fee_recipient, fee_bps, total_positions, fees_collected_a, fees_collected_b, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			fee_recipient = EXCLUDED.fee_recipient,
			fee_bps = EXCLUDED.fee_bps,
			total_positions = EXCLUDED.total_positions,
			fees_collected_a = EXCLUDED.fees_collected_a,
			fees_collected_b = EXCLUDED.fees_collected_b,
			updated_at = CURRENT_TIMESTAMP;
	`

	_, err := DB.Exec(query,
		cfg.FeeRecipient, cfg.FeeBps, cfg.TotalPositions,
		cfg.FeesCollectedA.String(), cfg.FeesCollectedB.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save protocol config: %w", err)
	}
	return nil
}

// LoadProtocolConfig reads the singleton row. A missing row is not an error:
// the second return value reports whether a config exists yet.
func LoadProtocolConfig() (types.ProtocolConfig, bool, error) {
	if DB == nil {
		return types.ProtocolConfig{}, false, fmt.Errorf("database not initialized")
	}

	query := `SELECT fee_recipient, fee_bps, total_positions, fees_collected_a, fees_collected_b FROM protocol_config WHERE id = 1;`

	var (
		cfg          types.ProtocolConfig
		feesA, feesB string
	)
	err := DB.QueryRow(query).Scan(&cfg.FeeRecipient, &cfg.FeeBps, &cfg.TotalPositions, &feesA, &feesB)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.ProtocolConfig{}, false, nil
		}
		return types.ProtocolConfig{}, false, fmt.Errorf("failed to load protocol config: %w", err)
	}

	if cfg.FeesCollectedA, err = parseStoredInt(feesA); err != nil {
		return types.ProtocolConfig{}, false, fmt.Errorf("invalid fees_collected_a: %w", err)
	}
	if cfg.FeesCollectedB, err = parseStoredInt(feesB); err != nil {
		return types.ProtocolConfig{}, false, fmt.Errorf("invalid fees_collected_b: %w", err)
	}

	log.Debug().Uint32("feeBps", cfg.FeeBps).Uint64("totalPositions", cfg.TotalPositions).Msg("Loaded protocol config")
	return cfg, true, nil
}

// parseStoredInt converts a NUMERIC column scanned as text back to an Int.
func parseStoredInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("cannot parse %q as integer", s)
	}
	return v, nil
}
