// ./internal/state/account_store.go
package state

import (
	"fmt"

	"github.com/keeperlabs/reallocator/internal/types"
)

// UpsertUserAccount writes one user account row.
func UpsertUserAccount(user types.UserAccount) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO user_accounts (owner, open_positions, lifetime_created, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (owner) DO UPDATE SET
			open_positions = EXCLUDED.open_positions,
			lifetime_created = EXCLUDED.lifetime_created,
			updated_at = CURRENT_TIMESTAMP;
	`

	if _, err := DB.Exec(query, user.Owner, user.OpenPositions, user.LifetimeCreated); err != nil {
		return fmt.Errorf("failed to upsert user account %s: %w", user.Owner, err)
	}
	return nil
}

// LoadAllUserAccounts reads every user account row.
func LoadAllUserAccounts() ([]types.UserAccount, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT owner, open_positions, lifetime_created FROM user_accounts ORDER BY owner;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query user accounts: %w", err)
	}
	defer rows.Close()

	var users []types.UserAccount
	for rows.Next() {
		var u types.UserAccount
		if err := rows.Scan(&u.Owner, &u.OpenPositions, &u.LifetimeCreated); err != nil {
			return nil, fmt.Errorf("failed to scan user account: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating user accounts: %w", err)
	}
	return users, nil
}
