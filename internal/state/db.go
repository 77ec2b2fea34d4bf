// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	return DB.Ping()
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
// Amounts and prices are stored as NUMERIC(78, 0): big-integer smallest units,
// never floats.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS protocol_config (
			id INTEGER PRIMARY KEY DEFAULT 1,
			fee_recipient TEXT NOT NULL,
			fee_bps INTEGER NOT NULL,
			total_positions BIGINT NOT NULL DEFAULT 0,
			fees_collected_a NUMERIC(78, 0) NOT NULL DEFAULT 0,
			fees_collected_b NUMERIC(78, 0) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS user_accounts (
			owner TEXT PRIMARY KEY,
			open_positions BIGINT NOT NULL DEFAULT 0,
			lifetime_created BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS positions (
			owner TEXT NOT NULL,
			position_id BIGINT NOT NULL,
			range_min NUMERIC(78, 0) NOT NULL,
			range_max NUMERIC(78, 0) NOT NULL,
			balances JSONB NOT NULL,
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			lp_handle TEXT NOT NULL DEFAULT '',
			created_at_tick BIGINT NOT NULL DEFAULT 0,
			last_rebalance_tick BIGINT NOT NULL DEFAULT 0,
			last_rebalance_price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			total_rebalances BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, position_id)
		);
		CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner);

		CREATE TABLE IF NOT EXISTS rebalance_receipts (
			receipt_id BIGSERIAL PRIMARY KEY,
			sweep_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			position_id BIGINT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			tick BIGINT NOT NULL DEFAULT 0,
			receipt_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_sweep ON rebalance_receipts(sweep_id);
		CREATE INDEX IF NOT EXISTS idx_rebalance_receipts_position ON rebalance_receipts(owner, position_id, receipt_timestamp DESC);

		CREATE TABLE IF NOT EXISTS sweep_snapshots (
			snapshot_id BIGSERIAL PRIMARY KEY,
			sweep_number INTEGER NOT NULL,
			sweep_id TEXT NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			positions_seen INTEGER NOT NULL,
			positions_moved INTEGER NOT NULL,
			positions_unchanged INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			receipts JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sweep_snapshots_number ON sweep_snapshots(sweep_number DESC);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	if err := ensureSweepCounterTable(); err != nil {
		return err
	}

	log.Info().Msg("Database schema ensured")
	return nil
}
