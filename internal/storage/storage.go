// Package storage handles all database operations for the Netcup API Filter.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Storage defines the repository used by the resolver and the admin API.
type Storage interface {
	// Accounts
	CreateAccount(ctx context.Context, username string, isAdmin bool) (*Account, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)
	GetAccountByAlias(ctx context.Context, alias string) (*Account, error)
	ListAccounts(ctx context.Context) ([]*Account, error)
	SetAccountAlias(ctx context.Context, id int64, alias string) error
	SetAccountActive(ctx context.Context, id int64, active bool) error

	// Backend services
	CreateBackendService(ctx context.Context, svc *BackendService) (*BackendService, error)
	GetBackendService(ctx context.Context, id int64) (*BackendService, error)
	GetBackendServiceByName(ctx context.Context, name string) (*BackendService, error)
	ListBackendServices(ctx context.Context) ([]*BackendService, error)
	RotateBackendCredentials(ctx context.Context, id int64, settings map[string]string) error

	// Domain roots
	CreateDomainRoot(ctx context.Context, root *DomainRoot) (*DomainRoot, error)
	GetDomainRoot(ctx context.Context, id int64) (*DomainRoot, error)
	GetDomainRootByZone(ctx context.Context, zone string) (*DomainRoot, error)
	ListDomainRoots(ctx context.Context) ([]*DomainRoot, error)

	// Realms
	CreateRealm(ctx context.Context, r *Realm) (*Realm, error)
	GetRealm(ctx context.Context, id int64) (*Realm, error)
	ListRealms(ctx context.Context, accountID int64) ([]*Realm, error)
	SetRealmStatus(ctx context.Context, id int64, status string) error

	// Tokens
	CreateToken(ctx context.Context, t *Token) (*Token, error)
	GetToken(ctx context.Context, id int64) (*Token, error)
	GetTokenByPrefix(ctx context.Context, accountID int64, prefix string) (*Token, error)
	ListTokens(ctx context.Context, realmID int64) ([]*Token, error)
	RevokeToken(ctx context.Context, id int64) error
	RegenerateToken(ctx context.Context, id int64, prefix, hash string) error
	TouchToken(ctx context.Context, id int64, ip string, at time.Time) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db            *sql.DB
	encryptionKey []byte
}

var _ Storage = (*SQLiteStorage)(nil)

// New creates a new SQLiteStorage instance and applies pending migrations.
// The dbPath is the file path for the SQLite database (or ":memory:" for tests).
// The encryptionKey must be exactly 32 bytes for AES-256.
func New(dbPath string, encryptionKey []byte) (*SQLiteStorage, error) {
	if len(encryptionKey) != 32 {
		return nil, ErrInvalidKey
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite requires a single connection for in-process file
	// databases to avoid "database is locked" errors, and ":memory:" databases
	// exist per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(context.Background(), db); err != nil {
		_ = db.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rowsAffected maps a zero-row update to ErrNotFound.
func rowsAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// marshalList encodes a string list as JSON. A nil list is stored as NULL.
func marshalList(list []string) (any, error) {
	if list == nil {
		return nil, nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// unmarshalList decodes a nullable JSON list column. NULL decodes to nil.
func unmarshalList(data sql.NullString) ([]string, error) {
	if !data.Valid {
		return nil, nil
	}
	list := []string{}
	if err := json.Unmarshal([]byte(data.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
