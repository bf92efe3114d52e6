package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/savedu/internal/models"
)

const accountColumns = `id, email, password_hash, metadata, created_at`

// CreateAccount inserts a new credential row.
func (s *Store) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	meta, err := json.Marshal(account.Metadata)
	if err != nil {
		return models.Account{}, fmt.Errorf("encode metadata: %w", err)
	}
	if account.Metadata == nil {
		meta = []byte("{}")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO auth_accounts (id, email, password_hash, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING `+accountColumns,
		account.ID, strings.TrimSpace(account.Email), account.PasswordHash, meta,
	)
	return scanAccount(row)
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM auth_accounts WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	return scanAccount(row)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var acc models.Account
	var meta []byte
	if err := row.Scan(&acc.ID, &acc.Email, &acc.PasswordHash, &meta, &acc.CreatedAt); err != nil {
		return models.Account{}, mapErr(err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &acc.Metadata); err != nil {
			return models.Account{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return acc, nil
}
