// Package admin provides the administration API: accounts, backend services,
// domain roots, realms and tokens.
package admin

import (
	"context"
	"log/slog"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/storage"
	"github.com/sipico/netcup-api-filter/internal/token"
)

// Storage interface for admin operations
type Storage interface {
	// Health check
	Ping(ctx context.Context) error

	CreateAccount(ctx context.Context, username string, isAdmin bool) (*storage.Account, error)
	GetAccount(ctx context.Context, id int64) (*storage.Account, error)
	ListAccounts(ctx context.Context) ([]*storage.Account, error)
	SetAccountAlias(ctx context.Context, id int64, alias string) error
	SetAccountActive(ctx context.Context, id int64, active bool) error

	CreateBackendService(ctx context.Context, svc *storage.BackendService) (*storage.BackendService, error)
	GetBackendService(ctx context.Context, id int64) (*storage.BackendService, error)
	ListBackendServices(ctx context.Context) ([]*storage.BackendService, error)
	RotateBackendCredentials(ctx context.Context, id int64, settings map[string]string) error

	CreateDomainRoot(ctx context.Context, root *storage.DomainRoot) (*storage.DomainRoot, error)
	GetDomainRoot(ctx context.Context, id int64) (*storage.DomainRoot, error)
	ListDomainRoots(ctx context.Context) ([]*storage.DomainRoot, error)

	CreateRealm(ctx context.Context, r *storage.Realm) (*storage.Realm, error)
	GetRealm(ctx context.Context, id int64) (*storage.Realm, error)
	ListRealms(ctx context.Context, accountID int64) ([]*storage.Realm, error)
	SetRealmStatus(ctx context.Context, id int64, status string) error

	CreateToken(ctx context.Context, t *storage.Token) (*storage.Token, error)
	GetToken(ctx context.Context, id int64) (*storage.Token, error)
	ListTokens(ctx context.Context, realmID int64) ([]*storage.Token, error)
	RevokeToken(ctx context.Context, id int64) error
	RegenerateToken(ctx context.Context, id int64, prefix, hash string) error
}

// Backends builds adapters for connection tests and drops cached ones
// after credential changes. *backend.Pool implements it.
type Backends interface {
	Build(provider string, settings map[string]string, keysAndValues ...any) (backend.Adapter, error)
	Forget(id int64)
}

// FailureCounter reports recent authentication failures per account.
// *security.Classifier implements it.
type FailureCounter interface {
	RecentFailures(accountID int64) int
}

// Handler provides admin endpoints
type Handler struct {
	storage  Storage
	codec    *token.Codec
	adminKey *auth.AdminKey
	backends Backends
	failures FailureCounter
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// NewHandler creates an admin handler
func NewHandler(storage Storage, codec *token.Codec, adminKey *auth.AdminKey, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		storage:  storage,
		codec:    codec,
		adminKey: adminKey,
		logLevel: logLevel,
		logger:   logger,
	}
}

// SetBackends sets the adapter source used for connection tests.
// Without it, backends are stored untested.
func (h *Handler) SetBackends(b Backends) {
	h.backends = b
}

// SetFailureCounter enables the recent_failures field of account listings.
func (h *Handler) SetFailureCounter(f FailureCounter) {
	h.failures = f
}
