package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tokenColumns = `id, realm_id, account_id, name, prefix, token_hash,
	allowed_record_types, allowed_operations, ip_allowlist, expires_at,
	active, last_used_at, last_used_ip, use_count, created_at`

// CreateToken stores a new token for a realm. AccountID is taken from the realm.
// Returns ErrDuplicate if the account already has a token with the same prefix,
// in which case the caller generates a new secret.
func (s *SQLiteStorage) CreateToken(ctx context.Context, t *Token) (*Token, error) {
	if t.Name == "" || t.Prefix == "" || t.Hash == "" {
		return nil, fmt.Errorf("token name, prefix and hash are required")
	}

	r, err := s.GetRealm(ctx, t.RealmID)
	if err != nil {
		return nil, err
	}

	typesJSON, err := marshalList(t.AllowedRecordTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record types: %w", err)
	}
	opsJSON, err := marshalList(t.AllowedOperations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}
	ipsJSON, err := marshalList(t.IPAllowList)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ip allow-list: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (realm_id, account_id, name, prefix, token_hash,
			allowed_record_types, allowed_operations, ip_allowlist, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, t.Name, t.Prefix, t.Hash, typesJSON, opsJSON, ipsJSON, nullTime(t.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return s.GetToken(ctx, id)
}

// GetToken retrieves a token by ID.
func (s *SQLiteStorage) GetToken(ctx context.Context, id int64) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE id = ?", id)
	return scanToken(row)
}

// GetTokenByPrefix retrieves a token by the (account, prefix) index.
// This is the second lookup during token authentication.
func (s *SQLiteStorage) GetTokenByPrefix(ctx context.Context, accountID int64, prefix string) (*Token, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE account_id = ? AND prefix = ?",
		accountID, prefix)
	return scanToken(row)
}

// ListTokens returns the tokens of a realm ordered by ID.
func (s *SQLiteStorage) ListTokens(ctx context.Context, realmID int64) ([]*Token, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE realm_id = ? ORDER BY id ASC", realmID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	tokens := make([]*Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tokens: %w", err)
	}
	return tokens, nil
}

// RevokeToken deactivates a token. Revocation is irreversible.
func (s *SQLiteStorage) RevokeToken(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return rowsAffected(result)
}

// RegenerateToken replaces prefix and hash of an active token, keeping its scope.
// The previous secret stops working immediately.
func (s *SQLiteStorage) RegenerateToken(ctx context.Context, id int64, prefix, hash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET prefix = ?, token_hash = ? WHERE id = ? AND active = 1",
		prefix, hash, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to regenerate token: %w", err)
	}

	if err := rowsAffected(result); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, getErr := s.GetToken(ctx, id); getErr != nil {
			return getErr
		}
		return ErrTokenRevoked
	}
	return nil
}

// TouchToken records a successful use. The counter is incremented in a single
// statement so concurrent requests never lose an update.
func (s *SQLiteStorage) TouchToken(ctx context.Context, id int64, ip string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET last_used_at = ?, last_used_ip = ?, use_count = use_count + 1 WHERE id = ?",
		at.UTC(), ip, id)
	if err != nil {
		return fmt.Errorf("failed to update token usage: %w", err)
	}
	return rowsAffected(result)
}

func scanToken(row rowScanner) (*Token, error) {
	var t Token
	var typesJSON, opsJSON, ipsJSON, lastIP sql.NullString
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(&t.ID, &t.RealmID, &t.AccountID, &t.Name, &t.Prefix, &t.Hash,
		&typesJSON, &opsJSON, &ipsJSON, &expiresAt,
		&t.Active, &lastUsedAt, &lastIP, &t.UseCount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan token: %w", err)
	}

	if t.AllowedRecordTypes, err = unmarshalList(typesJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record types: %w", err)
	}
	if t.AllowedOperations, err = unmarshalList(opsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
	}
	if t.IPAllowList, err = unmarshalList(ipsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ip allow-list: %w", err)
	}

	t.ExpiresAt = timePtr(expiresAt)
	t.LastUsedAt = timePtr(lastUsedAt)
	t.LastUsedIP = lastIP.String
	return &t, nil
}
