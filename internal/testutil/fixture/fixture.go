// Package fixture wires a real resolver to in-memory storage and backend
// fakes for handler tests.
package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
	"github.com/sipico/netcup-api-filter/internal/testutil/mockbackend"
	"github.com/sipico/netcup-api-filter/internal/testutil/mockstore"
	"github.com/sipico/netcup-api-filter/internal/token"
)

// Alias is the account alias of the fixture account.
const Alias = "Ab3xYz9KmNpQrStU"

// Zone is the fixture domain root.
const Zone = "example.com"

// Env is one account with one approved realm "subdomain:iot.example.com"
// (A/AAAA, read+update) under the root example.com, a token for it and a
// mock backend. Fields may be changed by tests before issuing requests.
type Env struct {
	Store    *mockstore.MockStorage
	Resolver *auth.Resolver
	Codec    *token.Codec
	Backend  *mockbackend.Adapter
	// AdapterErr is returned by Adapter when set.
	AdapterErr error

	Raw     string
	Account *storage.Account
	Realm   *storage.Realm
	Root    *storage.DomainRoot
	Token   *storage.Token
	Service *storage.BackendService

	mu       sync.Mutex
	outcomes []auth.Outcome
}

// New builds an Env.
func New(t testing.TB) *Env {
	t.Helper()

	codec := token.NewCodec(token.WithCost(bcrypt.MinCost))
	raw, stored, err := codec.Generate(Alias)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	e := &Env{
		Codec:   codec,
		Backend: mockbackend.New(),
		Raw:     raw,
		Account: &storage.Account{ID: 10, Username: "alice", Alias: Alias, Active: true},
		Service: &storage.BackendService{ID: 40, Name: "primary", Provider: "mock"},
		Root: &storage.DomainRoot{
			ID:                 30,
			Zone:               Zone,
			BackendServiceID:   40,
			AllowedRecordTypes: []string{"A", "AAAA", "TXT", "CNAME", "MX"},
			AllowedOperations:  []string{"read", "create", "update", "delete"},
		},
		Realm: &storage.Realm{
			ID:                 20,
			AccountID:          10,
			DomainRootID:       30,
			Type:               realm.TypeSubdomain,
			Value:              "iot.example.com",
			AllowedRecordTypes: []string{"A", "AAAA"},
			AllowedOperations:  []string{"read", "update"},
			Status:             storage.RealmApproved,
		},
		Token: &storage.Token{
			ID:        50,
			RealmID:   20,
			AccountID: 10,
			Name:      "device",
			Prefix:    stored.Prefix,
			Hash:      stored.Hash,
			Active:    true,
		},
	}

	e.Store = &mockstore.MockStorage{
		GetAccountByAliasFunc: func(ctx context.Context, alias string) (*storage.Account, error) {
			if alias != e.Account.Alias {
				return nil, storage.ErrNotFound
			}
			return e.Account, nil
		},
		GetTokenByPrefixFunc: func(ctx context.Context, accountID int64, prefix string) (*storage.Token, error) {
			if accountID != e.Token.AccountID || prefix != e.Token.Prefix {
				return nil, storage.ErrNotFound
			}
			return e.Token, nil
		},
		GetRealmFunc: func(ctx context.Context, id int64) (*storage.Realm, error) {
			return e.Realm, nil
		},
		GetDomainRootFunc: func(ctx context.Context, id int64) (*storage.DomainRoot, error) {
			return e.Root, nil
		},
		GetBackendServiceFunc: func(ctx context.Context, id int64) (*storage.BackendService, error) {
			return e.Service, nil
		},
		TouchTokenFunc: func(ctx context.Context, id int64, ip string, at time.Time) error {
			return nil
		},
	}

	e.Resolver = auth.NewResolver(e.Store, codec, auth.WithRecorder(e))
	return e
}

// Record implements auth.Recorder.
func (e *Env) Record(o auth.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, o)
}

// Outcomes returns the recorded outcomes.
func (e *Env) Outcomes() []auth.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]auth.Outcome(nil), e.outcomes...)
}

// LastCode returns the code of the last recorded outcome, "" when none.
func (e *Env) LastCode() auth.ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.outcomes) == 0 {
		return auth.CodeNone
	}
	return e.outcomes[len(e.outcomes)-1].Code
}

// Adapter returns the mock backend for any service.
func (e *Env) Adapter(svc *storage.BackendService) (backend.Adapter, error) {
	if e.AdapterErr != nil {
		return nil, e.AdapterErr
	}
	return e.Backend, nil
}

// Bearer returns the Authorization header value for the fixture token.
func (e *Env) Bearer() string {
	return "Bearer " + e.Raw
}
