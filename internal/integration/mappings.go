package integration

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMappingNotFound indicates no account is configured for the key.
var ErrMappingNotFound = errors.New("integration: account mapping not found")

// Mappings resolves account mappings from the database.
type Mappings struct {
	pool *pgxpool.Pool
}

// NewMappings constructs Mappings.
func NewMappings(pool *pgxpool.Pool) *Mappings {
	return &Mappings{pool: pool}
}

// AccountFor returns the account mapped to the key for the inventory module.
func (m *Mappings) AccountFor(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrMappingNotFound
	}
	var accountID int64
	err := m.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE module=$1 AND key=$2`,
		strings.ToUpper(module), strings.ToUpper(key)).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMappingNotFound
		}
		return 0, err
	}
	return accountID, nil
}

// Upsert configures a mapping key.
func (m *Mappings) Upsert(ctx context.Context, key string, accountID int64) error {
	_, err := m.pool.Exec(ctx, `INSERT INTO account_mappings (module, key, account_id) VALUES ($1,$2,$3)
ON CONFLICT (module, key) DO UPDATE SET account_id=EXCLUDED.account_id, updated_at=NOW()`,
		strings.ToUpper(module), strings.ToUpper(key), accountID)
	return err
}
