package storage

import (
	"time"

	"github.com/sipico/netcup-api-filter/internal/realm"
)

// Realm status values.
const (
	RealmPending  = "pending"
	RealmApproved = "approved"
	RealmRejected = "rejected"
)

// Domain root visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Account owns realms. Accounts are deactivated, never deleted.
type Account struct {
	ID        int64
	Username  string
	Alias     string // empty until the first token is generated
	Active    bool
	IsAdmin   bool
	CreatedAt time.Time
}

// BackendService is a configured upstream DNS provider.
// Settings are encrypted at rest and decrypted on read.
type BackendService struct {
	ID             int64
	Name           string
	Provider       string
	OwnerAccountID *int64 // nil for platform-owned backends
	Settings       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DomainRoot is a managed zone and the outer policy envelope for realms carved from it.
type DomainRoot struct {
	ID                 int64
	Zone               string
	BackendServiceID   int64
	Visibility         string
	MaxSubdomainDepth  int // 0 means unlimited
	AllowedRecordTypes []string
	AllowedOperations  []string
	CreatedAt          time.Time
}

// Realm is a scoped grant of access to part of a domain root.
type Realm struct {
	ID                 int64
	AccountID          int64
	DomainRootID       int64
	Type               realm.Type
	Value              string
	AllowedRecordTypes []string
	AllowedOperations  []string
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Token is a stored bearer credential. Only the prefix and the hash of the
// full token string are persisted.
type Token struct {
	ID        int64
	RealmID   int64
	AccountID int64
	Name      string
	Prefix    string
	Hash      string

	// nil means inherit from the realm
	AllowedRecordTypes []string
	AllowedOperations  []string

	IPAllowList []string
	ExpiresAt   *time.Time
	Active      bool
	LastUsedAt  *time.Time
	LastUsedIP  string
	UseCount    int64
	CreatedAt   time.Time
}

// Expired reports whether the token has an expiry at or before now.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
