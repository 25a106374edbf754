package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const backendColumns = "id, name, provider, owner_account_id, settings_encrypted, created_at, updated_at"

// CreateBackendService stores a backend with its settings encrypted.
// Returns ErrDuplicate if the name is taken.
func (s *SQLiteStorage) CreateBackendService(ctx context.Context, svc *BackendService) (*BackendService, error) {
	if svc.Name == "" || svc.Provider == "" {
		return nil, fmt.Errorf("backend name and provider are required")
	}

	encrypted, err := EncryptSettings(svc.Settings, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt backend settings: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO backend_services (name, provider, owner_account_id, settings_encrypted) VALUES (?, ?, ?, ?)",
		svc.Name, svc.Provider, svc.OwnerAccountID, encrypted)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create backend service: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get insert ID: %w", err)
	}
	return s.GetBackendService(ctx, id)
}

// GetBackendService retrieves a backend by ID with decrypted settings.
func (s *SQLiteStorage) GetBackendService(ctx context.Context, id int64) (*BackendService, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+backendColumns+" FROM backend_services WHERE id = ?", id)
	return s.scanBackend(row)
}

// GetBackendServiceByName retrieves a backend by its unique name.
func (s *SQLiteStorage) GetBackendServiceByName(ctx context.Context, name string) (*BackendService, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+backendColumns+" FROM backend_services WHERE name = ?", name)
	return s.scanBackend(row)
}

// ListBackendServices returns all backends ordered by ID.
func (s *SQLiteStorage) ListBackendServices(ctx context.Context) ([]*BackendService, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+backendColumns+" FROM backend_services ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query backend services: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	services := make([]*BackendService, 0)
	for rows.Next() {
		svc, err := s.scanBackend(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backend services: %w", err)
	}
	return services, nil
}

// RotateBackendCredentials replaces the settings of a backend. The provider
// kind cannot change once a backend exists.
func (s *SQLiteStorage) RotateBackendCredentials(ctx context.Context, id int64, settings map[string]string) error {
	encrypted, err := EncryptSettings(settings, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt backend settings: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE backend_services SET settings_encrypted = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		encrypted, id)
	if err != nil {
		return fmt.Errorf("failed to rotate backend credentials: %w", err)
	}
	return rowsAffected(result)
}

func (s *SQLiteStorage) scanBackend(row rowScanner) (*BackendService, error) {
	var svc BackendService
	var owner sql.NullInt64
	var encrypted []byte

	err := row.Scan(&svc.ID, &svc.Name, &svc.Provider, &owner, &encrypted, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan backend service: %w", err)
	}

	if owner.Valid {
		id := owner.Int64
		svc.OwnerAccountID = &id
	}

	settings, err := DecryptSettings(encrypted, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt settings for backend %d: %w", svc.ID, err)
	}
	svc.Settings = settings

	return &svc, nil
}
