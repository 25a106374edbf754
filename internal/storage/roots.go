package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const rootColumns = "id, zone, backend_service_id, visibility, max_subdomain_depth, allowed_record_types, allowed_operations, created_at"

// CreateDomainRoot stores a managed zone bound to a backend service.
// Returns ErrDuplicate if the zone is already managed and ErrNotFound if the
// backend does not exist.
func (s *SQLiteStorage) CreateDomainRoot(ctx context.Context, root *DomainRoot) (*DomainRoot, error) {
	if root.Zone == "" {
		return nil, fmt.Errorf("zone cannot be empty")
	}
	if len(root.AllowedOperations) == 0 || len(root.AllowedRecordTypes) == 0 {
		return nil, fmt.Errorf("allowed operations and record types cannot be empty")
	}

	visibility := root.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}

	typesJSON, err := marshalList(root.AllowedRecordTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record types: %w", err)
	}
	opsJSON, err := marshalList(root.AllowedOperations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO domain_roots (zone, backend_service_id, visibility, max_subdomain_depth, allowed_record_types, allowed_operations)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		root.Zone, root.BackendServiceID, visibility, root.MaxSubdomainDepth, typesJSON, opsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create domain root: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return s.GetDomainRoot(ctx, id)
}

// GetDomainRoot retrieves a domain root by ID.
func (s *SQLiteStorage) GetDomainRoot(ctx context.Context, id int64) (*DomainRoot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+rootColumns+" FROM domain_roots WHERE id = ?", id)
	return scanRoot(row)
}

// GetDomainRootByZone retrieves a domain root by zone name.
func (s *SQLiteStorage) GetDomainRootByZone(ctx context.Context, zone string) (*DomainRoot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+rootColumns+" FROM domain_roots WHERE zone = ?", zone)
	return scanRoot(row)
}

// ListDomainRoots returns all domain roots ordered by zone.
func (s *SQLiteStorage) ListDomainRoots(ctx context.Context) ([]*DomainRoot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rootColumns+" FROM domain_roots ORDER BY zone ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query domain roots: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	roots := make([]*DomainRoot, 0)
	for rows.Next() {
		root, err := scanRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating domain roots: %w", err)
	}
	return roots, nil
}

func scanRoot(row rowScanner) (*DomainRoot, error) {
	var root DomainRoot
	var typesJSON, opsJSON sql.NullString

	err := row.Scan(&root.ID, &root.Zone, &root.BackendServiceID, &root.Visibility,
		&root.MaxSubdomainDepth, &typesJSON, &opsJSON, &root.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan domain root: %w", err)
	}

	if root.AllowedRecordTypes, err = unmarshalList(typesJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record types: %w", err)
	}
	if root.AllowedOperations, err = unmarshalList(opsJSON); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operations: %w", err)
	}
	return &root, nil
}
