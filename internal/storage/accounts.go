package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const accountColumns = "id, username, alias, active, is_admin, created_at"

// CreateAccount creates an active account without an alias.
// Returns ErrDuplicate if the username is taken.
func (s *SQLiteStorage) CreateAccount(ctx context.Context, username string, isAdmin bool) (*Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (username, is_admin) VALUES (?, ?)",
		username, isAdmin)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}

	return s.GetAccount(ctx, id)
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStorage) GetAccount(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	return scanAccount(row)
}

// GetAccountByAlias retrieves an account by its token alias.
// This is the first lookup during token authentication.
func (s *SQLiteStorage) GetAccountByAlias(ctx context.Context, alias string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE alias = ?", alias)
	return scanAccount(row)
}

// ListAccounts returns all accounts ordered by ID.
func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	accounts := make([]*Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountAlias assigns the alias once. An alias is immutable after the
// first assignment: ErrAliasAssigned is returned if one is already set.
func (s *SQLiteStorage) SetAccountAlias(ctx context.Context, id int64, alias string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET alias = ? WHERE id = ? AND alias IS NULL",
		alias, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to set account alias: %w", err)
	}

	if err := rowsAffected(result); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, getErr := s.GetAccount(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAliasAssigned
	}
	return nil
}

// SetAccountActive activates or deactivates an account.
func (s *SQLiteStorage) SetAccountActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return rowsAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	var alias sql.NullString
	err := row.Scan(&a.ID, &a.Username, &alias, &a.Active, &a.IsAdmin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Alias = alias.String
	return &a, nil
}
