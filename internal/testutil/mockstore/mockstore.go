// Package mockstore provides a configurable mock implementation of storage interfaces for testing.
//
// The MockStorage type uses function fields for each method, allowing tests to customize behavior
// as needed while providing sensible defaults for methods that aren't customized.
package mockstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

// MockStorage is a configurable mock implementation of storage.Storage.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the method returns a sensible default value.
type MockStorage struct {
	// Account operations
	CreateAccountFunc     func(ctx context.Context, username string, isAdmin bool) (*storage.Account, error)
	GetAccountFunc        func(ctx context.Context, id int64) (*storage.Account, error)
	GetAccountByAliasFunc func(ctx context.Context, alias string) (*storage.Account, error)
	ListAccountsFunc      func(ctx context.Context) ([]*storage.Account, error)
	SetAccountAliasFunc   func(ctx context.Context, id int64, alias string) error
	SetAccountActiveFunc  func(ctx context.Context, id int64, active bool) error

	// Backend service operations
	CreateBackendServiceFunc     func(ctx context.Context, svc *storage.BackendService) (*storage.BackendService, error)
	GetBackendServiceFunc        func(ctx context.Context, id int64) (*storage.BackendService, error)
	GetBackendServiceByNameFunc  func(ctx context.Context, name string) (*storage.BackendService, error)
	ListBackendServicesFunc      func(ctx context.Context) ([]*storage.BackendService, error)
	RotateBackendCredentialsFunc func(ctx context.Context, id int64, settings map[string]string) error

	// Domain root operations
	CreateDomainRootFunc    func(ctx context.Context, root *storage.DomainRoot) (*storage.DomainRoot, error)
	GetDomainRootFunc       func(ctx context.Context, id int64) (*storage.DomainRoot, error)
	GetDomainRootByZoneFunc func(ctx context.Context, zone string) (*storage.DomainRoot, error)
	ListDomainRootsFunc     func(ctx context.Context) ([]*storage.DomainRoot, error)

	// Realm operations
	CreateRealmFunc    func(ctx context.Context, r *storage.Realm) (*storage.Realm, error)
	GetRealmFunc       func(ctx context.Context, id int64) (*storage.Realm, error)
	ListRealmsFunc     func(ctx context.Context, accountID int64) ([]*storage.Realm, error)
	SetRealmStatusFunc func(ctx context.Context, id int64, status string) error

	// Token operations
	CreateTokenFunc      func(ctx context.Context, t *storage.Token) (*storage.Token, error)
	GetTokenFunc         func(ctx context.Context, id int64) (*storage.Token, error)
	GetTokenByPrefixFunc func(ctx context.Context, accountID int64, prefix string) (*storage.Token, error)
	ListTokensFunc       func(ctx context.Context, realmID int64) ([]*storage.Token, error)
	RevokeTokenFunc      func(ctx context.Context, id int64) error
	RegenerateTokenFunc  func(ctx context.Context, id int64, prefix, hash string) error
	TouchTokenFunc       func(ctx context.Context, id int64, ip string, at time.Time) error

	// Lifecycle
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error

	// Lookups counts alias and prefix lookups, the two store reads on the
	// authentication path.
	Lookups atomic.Int64
}

var _ storage.Storage = (*MockStorage)(nil)

// CreateAccount creates an account.
func (m *MockStorage) CreateAccount(ctx context.Context, username string, isAdmin bool) (*storage.Account, error) {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, username, isAdmin)
	}
	return &storage.Account{ID: 1, Username: username, IsAdmin: isAdmin, Active: true}, nil
}

// GetAccount retrieves an account by ID.
func (m *MockStorage) GetAccount(ctx context.Context, id int64) (*storage.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// GetAccountByAlias retrieves an account by alias.
func (m *MockStorage) GetAccountByAlias(ctx context.Context, alias string) (*storage.Account, error) {
	m.Lookups.Add(1)
	if m.GetAccountByAliasFunc != nil {
		return m.GetAccountByAliasFunc(ctx, alias)
	}
	return nil, storage.ErrNotFound
}

// ListAccounts lists accounts.
func (m *MockStorage) ListAccounts(ctx context.Context) ([]*storage.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx)
	}
	return []*storage.Account{}, nil
}

// SetAccountAlias assigns an alias.
func (m *MockStorage) SetAccountAlias(ctx context.Context, id int64, alias string) error {
	if m.SetAccountAliasFunc != nil {
		return m.SetAccountAliasFunc(ctx, id, alias)
	}
	return nil
}

// SetAccountActive activates or deactivates an account.
func (m *MockStorage) SetAccountActive(ctx context.Context, id int64, active bool) error {
	if m.SetAccountActiveFunc != nil {
		return m.SetAccountActiveFunc(ctx, id, active)
	}
	return nil
}

// CreateBackendService stores a backend.
func (m *MockStorage) CreateBackendService(ctx context.Context, svc *storage.BackendService) (*storage.BackendService, error) {
	if m.CreateBackendServiceFunc != nil {
		return m.CreateBackendServiceFunc(ctx, svc)
	}
	created := *svc
	created.ID = 1
	return &created, nil
}

// GetBackendService retrieves a backend by ID.
func (m *MockStorage) GetBackendService(ctx context.Context, id int64) (*storage.BackendService, error) {
	if m.GetBackendServiceFunc != nil {
		return m.GetBackendServiceFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// GetBackendServiceByName retrieves a backend by name.
func (m *MockStorage) GetBackendServiceByName(ctx context.Context, name string) (*storage.BackendService, error) {
	if m.GetBackendServiceByNameFunc != nil {
		return m.GetBackendServiceByNameFunc(ctx, name)
	}
	return nil, storage.ErrNotFound
}

// ListBackendServices lists backends.
func (m *MockStorage) ListBackendServices(ctx context.Context) ([]*storage.BackendService, error) {
	if m.ListBackendServicesFunc != nil {
		return m.ListBackendServicesFunc(ctx)
	}
	return []*storage.BackendService{}, nil
}

// RotateBackendCredentials replaces backend settings.
func (m *MockStorage) RotateBackendCredentials(ctx context.Context, id int64, settings map[string]string) error {
	if m.RotateBackendCredentialsFunc != nil {
		return m.RotateBackendCredentialsFunc(ctx, id, settings)
	}
	return nil
}

// CreateDomainRoot stores a domain root.
func (m *MockStorage) CreateDomainRoot(ctx context.Context, root *storage.DomainRoot) (*storage.DomainRoot, error) {
	if m.CreateDomainRootFunc != nil {
		return m.CreateDomainRootFunc(ctx, root)
	}
	created := *root
	created.ID = 1
	return &created, nil
}

// GetDomainRoot retrieves a domain root by ID.
func (m *MockStorage) GetDomainRoot(ctx context.Context, id int64) (*storage.DomainRoot, error) {
	if m.GetDomainRootFunc != nil {
		return m.GetDomainRootFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// GetDomainRootByZone retrieves a domain root by zone.
func (m *MockStorage) GetDomainRootByZone(ctx context.Context, zone string) (*storage.DomainRoot, error) {
	if m.GetDomainRootByZoneFunc != nil {
		return m.GetDomainRootByZoneFunc(ctx, zone)
	}
	return nil, storage.ErrNotFound
}

// ListDomainRoots lists domain roots.
func (m *MockStorage) ListDomainRoots(ctx context.Context) ([]*storage.DomainRoot, error) {
	if m.ListDomainRootsFunc != nil {
		return m.ListDomainRootsFunc(ctx)
	}
	return []*storage.DomainRoot{}, nil
}

// CreateRealm stores a realm.
func (m *MockStorage) CreateRealm(ctx context.Context, r *storage.Realm) (*storage.Realm, error) {
	if m.CreateRealmFunc != nil {
		return m.CreateRealmFunc(ctx, r)
	}
	created := *r
	created.ID = 1
	created.Status = storage.RealmPending
	return &created, nil
}

// GetRealm retrieves a realm by ID.
func (m *MockStorage) GetRealm(ctx context.Context, id int64) (*storage.Realm, error) {
	if m.GetRealmFunc != nil {
		return m.GetRealmFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// ListRealms lists realms.
func (m *MockStorage) ListRealms(ctx context.Context, accountID int64) ([]*storage.Realm, error) {
	if m.ListRealmsFunc != nil {
		return m.ListRealmsFunc(ctx, accountID)
	}
	return []*storage.Realm{}, nil
}

// SetRealmStatus changes realm status.
func (m *MockStorage) SetRealmStatus(ctx context.Context, id int64, status string) error {
	if m.SetRealmStatusFunc != nil {
		return m.SetRealmStatusFunc(ctx, id, status)
	}
	return nil
}

// CreateToken stores a token.
func (m *MockStorage) CreateToken(ctx context.Context, t *storage.Token) (*storage.Token, error) {
	if m.CreateTokenFunc != nil {
		return m.CreateTokenFunc(ctx, t)
	}
	created := *t
	created.ID = 1
	created.Active = true
	return &created, nil
}

// GetToken retrieves a token by ID.
func (m *MockStorage) GetToken(ctx context.Context, id int64) (*storage.Token, error) {
	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx, id)
	}
	return nil, storage.ErrNotFound
}

// GetTokenByPrefix retrieves a token by account and prefix.
func (m *MockStorage) GetTokenByPrefix(ctx context.Context, accountID int64, prefix string) (*storage.Token, error) {
	m.Lookups.Add(1)
	if m.GetTokenByPrefixFunc != nil {
		return m.GetTokenByPrefixFunc(ctx, accountID, prefix)
	}
	return nil, storage.ErrNotFound
}

// ListTokens lists tokens of a realm.
func (m *MockStorage) ListTokens(ctx context.Context, realmID int64) ([]*storage.Token, error) {
	if m.ListTokensFunc != nil {
		return m.ListTokensFunc(ctx, realmID)
	}
	return []*storage.Token{}, nil
}

// RevokeToken revokes a token.
func (m *MockStorage) RevokeToken(ctx context.Context, id int64) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, id)
	}
	return nil
}

// RegenerateToken replaces a token's secret.
func (m *MockStorage) RegenerateToken(ctx context.Context, id int64, prefix, hash string) error {
	if m.RegenerateTokenFunc != nil {
		return m.RegenerateTokenFunc(ctx, id, prefix, hash)
	}
	return nil
}

// TouchToken records token usage.
func (m *MockStorage) TouchToken(ctx context.Context, id int64, ip string, at time.Time) error {
	if m.TouchTokenFunc != nil {
		return m.TouchTokenFunc(ctx, id, ip, at)
	}
	return nil
}

// Ping checks connectivity.
func (m *MockStorage) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close closes the storage.
func (m *MockStorage) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
