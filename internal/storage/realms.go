package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sipico/netcup-api-filter/internal/realm"
)

const realmColumns = "id, account_id, domain_root_id, realm_type, realm_value, allowed_record_types, allowed_operations, status, created_at, updated_at"

// CreateRealm stores a realm in pending status. Policy checks against the
// domain root happen in the caller before this is reached.
func (s *SQLiteStorage) CreateRealm(ctx context.Context, r *Realm) (*Realm, error) {
	if r.Value == "" {
		return nil, fmt.Errorf("realm value cannot be empty")
	}

	typesJSON, err := marshalList(nonNil(r.AllowedRecordTypes))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record types: %w", err)
	}
	opsJSON, err := marshalList(nonNil(r.AllowedOperations))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO realms (account_id, domain_root_id, realm_type, realm_value, allowed_record_types, allowed_operations, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.AccountID, r.DomainRootID, string(r.Type), r.Value, typesJSON, opsJSON, RealmPending)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create realm: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return s.GetRealm(ctx, id)
}

// GetRealm retrieves a realm by ID.
func (s *SQLiteStorage) GetRealm(ctx context.Context, id int64) (*Realm, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+realmColumns+" FROM realms WHERE id = ?", id)
	return scanRealm(row)
}

// ListRealms returns the realms of an account, or all realms when accountID is 0.
func (s *SQLiteStorage) ListRealms(ctx context.Context, accountID int64) ([]*Realm, error) {
	var rows *sql.Rows
	var err error
	if accountID == 0 {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+realmColumns+" FROM realms ORDER BY id ASC")
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+realmColumns+" FROM realms WHERE account_id = ? ORDER BY id ASC", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query realms: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	realms := make([]*Realm, 0)
	for rows.Next() {
		r, err := scanRealm(rows)
		if err != nil {
			return nil, err
		}
		realms = append(realms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realms: %w", err)
	}
	return realms, nil
}

// SetRealmStatus moves a realm through its approval lifecycle.
// pending may become approved or rejected, approved may become rejected,
// rejected is final.
func (s *SQLiteStorage) SetRealmStatus(ctx context.Context, id int64, status string) error {
	var from []string
	switch status {
	case RealmApproved:
		from = []string{RealmPending}
	case RealmRejected:
		from = []string{RealmPending, RealmApproved}
	default:
		return fmt.Errorf("%w: to %q", ErrInvalidTransition, status)
	}

	query := "UPDATE realms SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status IN (?"
	args := []any{status, id, from[0]}
	for _, f := range from[1:] {
		query += ", ?"
		args = append(args, f)
	}
	query += ")"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update realm status: %w", err)
	}

	if err := rowsAffected(result); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		current, getErr := s.GetRealm(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, status)
	}
	return nil
}

func scanRealm(row rowScanner) (*Realm, error) {
	var r Realm
	var realmType string
	var typesJSON, opsJSON sql.NullString

	err := row.Scan(&r.ID, &r.AccountID, &r.DomainRootID, &realmType, &r.Value,
		&typesJSON, &opsJSON, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan realm: %w", err)
	}
	r.Type = realm.Type(realmType)

	if r.AllowedRecordTypes, err = unmarshalList(typesJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record types: %w", err)
	}
	if r.AllowedOperations, err = unmarshalList(opsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
	}
	return &r, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
