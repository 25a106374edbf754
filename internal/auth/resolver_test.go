package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
	"github.com/sipico/netcup-api-filter/internal/testutil/mockstore"
	"github.com/sipico/netcup-api-filter/internal/token"
)

const testAlias = "Ab3xYz9KmNpQrStU"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recorderSpy collects outcomes.
type recorderSpy struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recorderSpy) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorderSpy) last(t *testing.T) Outcome {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		t.Fatal("no outcome recorded")
	}
	return r.outcomes[len(r.outcomes)-1]
}

func (r *recorderSpy) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outcomes)
}

// fixture wires a resolver to a mock store holding one account, realm,
// root, backend and token.
type fixture struct {
	store    *mockstore.MockStorage
	recorder *recorderSpy
	resolver *Resolver
	raw      string

	account *storage.Account
	realm   *storage.Realm
	root    *storage.DomainRoot
	token   *storage.Token

	touched []int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	codec := token.NewCodec(token.WithCost(bcrypt.MinCost))
	raw, stored, err := codec.Generate(testAlias)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	f := &fixture{
		recorder: &recorderSpy{},
		raw:      raw,
		account:  &storage.Account{ID: 10, Username: "alice", Alias: testAlias, Active: true},
		root: &storage.DomainRoot{
			ID:                 30,
			Zone:               "example.com",
			BackendServiceID:   40,
			AllowedRecordTypes: []string{"A", "AAAA", "TXT", "CNAME"},
			AllowedOperations:  []string{"read", "create", "update", "delete"},
		},
		realm: &storage.Realm{
			ID:                 20,
			AccountID:          10,
			DomainRootID:       30,
			Type:               realm.TypeSubdomain,
			Value:              "iot.example.com",
			AllowedRecordTypes: []string{"A", "AAAA"},
			AllowedOperations:  []string{"read", "update"},
			Status:             storage.RealmApproved,
		},
		token: &storage.Token{
			ID:        50,
			RealmID:   20,
			AccountID: 10,
			Name:      "device",
			Prefix:    stored.Prefix,
			Hash:      stored.Hash,
			Active:    true,
		},
	}

	var mu sync.Mutex
	f.store = &mockstore.MockStorage{
		GetAccountByAliasFunc: func(ctx context.Context, alias string) (*storage.Account, error) {
			if alias != f.account.Alias {
				return nil, storage.ErrNotFound
			}
			return f.account, nil
		},
		GetTokenByPrefixFunc: func(ctx context.Context, accountID int64, prefix string) (*storage.Token, error) {
			if accountID != f.token.AccountID || prefix != f.token.Prefix {
				return nil, storage.ErrNotFound
			}
			return f.token, nil
		},
		GetRealmFunc: func(ctx context.Context, id int64) (*storage.Realm, error) {
			return f.realm, nil
		},
		GetDomainRootFunc: func(ctx context.Context, id int64) (*storage.DomainRoot, error) {
			return f.root, nil
		},
		GetBackendServiceFunc: func(ctx context.Context, id int64) (*storage.BackendService, error) {
			return &storage.BackendService{ID: id, Name: "netcup-main", Provider: "netcup"}, nil
		},
		TouchTokenFunc: func(ctx context.Context, id int64, ip string, at time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			f.touched = append(f.touched, id)
			return nil
		},
	}

	f.resolver = NewResolver(f.store, codec,
		WithRecorder(f.recorder),
		WithClock(func() time.Time { return testNow }))
	return f
}

func (f *fixture) request(hostname string, op Operation, recordType string) Request {
	return Request{
		Token:    f.raw,
		SourceIP: "198.51.100.7",
		Target:   Target{Hostname: hostname, Operation: op, RecordType: recordType},
	}
}

func TestResolve_GrantsSubdomainUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	d, err := f.resolver.Resolve(context.Background(), f.request("device1.iot.example.com", OpUpdate, "A"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Granted {
		t.Fatalf("Granted = false, code = %q", d.Code)
	}
	if d.Zone() != "example.com" {
		t.Errorf("Zone() = %q, want example.com", d.Zone())
	}
	if d.Backend == nil || d.Backend.Provider != "netcup" {
		t.Errorf("Backend = %+v", d.Backend)
	}

	o := f.recorder.last(t)
	if !o.Granted || o.TokenID != 50 || o.AccountID != 10 || o.RealmID != 20 {
		t.Errorf("outcome = %+v", o)
	}
	if len(f.touched) != 1 || f.touched[0] != 50 {
		t.Errorf("touched = %v, want [50]", f.touched)
	}
}

func TestResolve_DeniesOtherSubtree(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	d, err := f.resolver.Resolve(context.Background(), f.request("device1.other.example.com", OpUpdate, "A"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Granted || d.Code != CodeDomainDenied {
		t.Errorf("got granted=%v code=%q, want domain_denied", d.Granted, d.Code)
	}
	if len(f.touched) != 0 {
		t.Errorf("denied request touched token: %v", f.touched)
	}
}

func TestResolve_SubdomainOnlyDeniesApex(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.realm.Type = realm.TypeSubdomainOnly
	f.realm.Value = "dynamic.example.com"

	d, err := f.resolver.Resolve(context.Background(), f.request("dynamic.example.com", OpUpdate, "A"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Code != CodeDomainDenied {
		t.Errorf("code = %q, want domain_denied", d.Code)
	}

	d, err = f.resolver.Resolve(context.Background(), f.request("host.dynamic.example.com", OpUpdate, "A"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Granted {
		t.Errorf("child of subdomain_only realm denied: %q", d.Code)
	}
}

func TestResolve_WrongSecret(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	// Same alias and prefix, different tail.
	tampered := f.raw[:len(f.raw)-4] + "zzzz"
	if tampered == f.raw {
		tampered = f.raw[:len(f.raw)-4] + "yyyy"
	}
	req := f.request("device1.iot.example.com", OpUpdate, "A")
	req.Token = tampered

	d, err := f.resolver.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Code != CodeTokenHashMismatch {
		t.Errorf("code = %q, want token_hash_mismatch", d.Code)
	}

	o := f.recorder.last(t)
	if o.AccountID != 10 || o.TokenID != 50 {
		t.Errorf("attribution lost: %+v", o)
	}
}

func TestResolve_ErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(f *fixture, req *Request)
		want   ErrorCode
	}{
		{
			name:   "empty token",
			mutate: func(f *fixture, req *Request) { req.Token = "" },
			want:   CodeInvalidFormat,
		},
		{
			name: "unknown alias",
			mutate: func(f *fixture, req *Request) {
				req.Token = token.Scheme + "ZZZZZZZZZZZZZZZZ" + req.Token[len(token.Scheme)+token.AliasLength:]
			},
			want: CodeAliasNotFound,
		},
		{
			name: "unknown prefix",
			mutate: func(f *fixture, req *Request) {
				i := len(token.Scheme) + token.AliasLength + 1
				req.Token = req.Token[:i] + "00000000" + req.Token[i+8:]
			},
			want: CodeTokenPrefixNotFound,
		},
		{
			name:   "revoked",
			mutate: func(f *fixture, req *Request) { f.token.Active = false },
			want:   CodeTokenRevoked,
		},
		{
			name: "expired",
			mutate: func(f *fixture, req *Request) {
				past := testNow.Add(-time.Hour)
				f.token.ExpiresAt = &past
			},
			want: CodeTokenExpired,
		},
		{
			name:   "account disabled",
			mutate: func(f *fixture, req *Request) { f.account.Active = false },
			want:   CodeAccountDisabled,
		},
		{
			name:   "realm pending",
			mutate: func(f *fixture, req *Request) { f.realm.Status = storage.RealmPending },
			want:   CodeRealmNotApproved,
		},
		{
			name:   "realm rejected",
			mutate: func(f *fixture, req *Request) { f.realm.Status = storage.RealmRejected },
			want:   CodeRealmNotApproved,
		},
		{
			name:   "ip not in allow-list",
			mutate: func(f *fixture, req *Request) { f.token.IPAllowList = []string{"10.0.0.0/8"} },
			want:   CodeIPDenied,
		},
		{
			name:   "operation outside realm",
			mutate: func(f *fixture, req *Request) { req.Operation = OpDelete },
			want:   CodeOperationDenied,
		},
		{
			name:   "operation narrowed by token",
			mutate: func(f *fixture, req *Request) { f.token.AllowedOperations = []string{"read"} },
			want:   CodeOperationDenied,
		},
		{
			name:   "record type outside realm",
			mutate: func(f *fixture, req *Request) { req.RecordType = "TXT" },
			want:   CodeRecordTypeDenied,
		},
		{
			name:   "record type removed from root",
			mutate: func(f *fixture, req *Request) { f.root.AllowedRecordTypes = []string{"AAAA"} },
			want:   CodeRecordTypeDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			req := f.request("device1.iot.example.com", OpUpdate, "A")
			tt.mutate(f, &req)

			d, err := f.resolver.Resolve(context.Background(), req)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if d.Granted {
				t.Fatal("expected denial")
			}
			if d.Code != tt.want {
				t.Errorf("code = %q, want %q", d.Code, tt.want)
			}
			if o := f.recorder.last(t); o.Code != tt.want || o.Granted {
				t.Errorf("recorded outcome = %+v", o)
			}
			if len(f.touched) != 0 {
				t.Errorf("denied request touched token")
			}
		})
	}
}

func TestResolve_MalformedTokensSkipStore(t *testing.T) {
	t.Parallel()

	valid := token.Scheme + testAlias + "_" + strings.Repeat("a", token.SecretLength)
	malformed := []string{
		"",
		"naf_",
		valid[:len(valid)-1],
		valid + "a",
		"xyz_" + valid[4:],
		strings.Replace(valid, "_a", "-a", 1),
		valid[:len(valid)-1] + "!",
		valid[:10] + "é" + valid[12:],
		"Bearer " + valid,
	}

	for _, raw := range malformed {
		f := newFixture(t)
		d, err := f.resolver.Resolve(context.Background(), Request{Token: raw, SourceIP: "198.51.100.7"})
		if err != nil {
			t.Fatalf("Resolve(%q): %v", raw, err)
		}
		if d.Code != CodeInvalidFormat {
			t.Errorf("Resolve(%q) code = %q, want invalid_format", raw, d.Code)
		}
		if n := f.store.Lookups.Load(); n != 0 {
			t.Errorf("Resolve(%q) performed %d store lookups", raw, n)
		}
	}
}

func TestResolve_StorageErrorIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("disk gone")
	f.store.GetAccountByAliasFunc = func(ctx context.Context, alias string) (*storage.Account, error) {
		return nil, boom
	}

	_, err := f.resolver.Resolve(context.Background(), f.request("device1.iot.example.com", OpUpdate, "A"))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
	if f.recorder.count() != 0 {
		t.Error("storage failure must not be recorded as an outcome")
	}
}

func TestResolve_TouchFailureStillGrants(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.TouchTokenFunc = func(ctx context.Context, id int64, ip string, at time.Time) error {
		return errors.New("locked")
	}

	d, err := f.resolver.Resolve(context.Background(), f.request("device1.iot.example.com", OpRead, "AAAA"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Granted {
		t.Errorf("code = %q, want grant", d.Code)
	}
}

func TestAuthenticate_ThenAuthorize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	partial, err := f.resolver.Authenticate(ctx, f.raw, "198.51.100.7")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !partial.Granted {
		t.Fatalf("Authenticate denied: %q", partial.Code)
	}
	if f.recorder.count() != 0 {
		t.Error("successful authentication alone must not be recorded")
	}

	denied, err := f.resolver.Authorize(ctx, partial, Target{Hostname: "www.example.com", Operation: OpUpdate, RecordType: "A"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if denied.Code != CodeDomainDenied {
		t.Errorf("code = %q, want domain_denied", denied.Code)
	}
	// The partial decision is not mutated by Authorize.
	if !partial.Granted {
		t.Error("Authorize mutated the authenticated decision")
	}

	granted, err := f.resolver.Authorize(ctx, partial, Target{Hostname: "iot.example.com", Operation: OpUpdate, RecordType: "AAAA"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !granted.Granted {
		t.Errorf("code = %q, want grant", granted.Code)
	}
	if f.recorder.count() != 2 {
		t.Errorf("recorded %d outcomes, want 2", f.recorder.count())
	}
}

func TestAuthenticate_DenialIsRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.account.Active = false

	d, err := f.resolver.Authenticate(context.Background(), f.raw, "198.51.100.7")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if d.Code != CodeAccountDisabled {
		t.Errorf("code = %q", d.Code)
	}
	if f.recorder.count() != 1 {
		t.Errorf("recorded %d outcomes, want 1", f.recorder.count())
	}

	// Authorizing a denied decision keeps the denial.
	again, err := f.resolver.Authorize(context.Background(), d, Target{Hostname: "iot.example.com", Operation: OpRead, RecordType: "A"})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if again.Granted || again.Code != CodeAccountDisabled {
		t.Errorf("Authorize on denied decision = %+v", again)
	}
}

func TestAuthorizeList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("read allowed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		partial, err := f.resolver.Authenticate(ctx, f.raw, "198.51.100.7")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		d, err := f.resolver.AuthorizeList(ctx, partial)
		if err != nil {
			t.Fatalf("AuthorizeList: %v", err)
		}
		if !d.Granted {
			t.Fatalf("code = %q", d.Code)
		}
		if o := f.recorder.last(t); o.Hostname != "iot.example.com" || o.Operation != OpRead {
			t.Errorf("outcome = %+v", o)
		}

		// Per-record filtering.
		if code := d.Permits(Target{Hostname: "a.iot.example.com", Operation: OpRead, RecordType: "A"}); code != CodeNone {
			t.Errorf("Permits child = %q", code)
		}
		if code := d.Permits(Target{Hostname: "www.example.com", Operation: OpRead, RecordType: "A"}); code != CodeDomainDenied {
			t.Errorf("Permits sibling = %q", code)
		}
		if code := d.Permits(Target{Hostname: "a.iot.example.com", Operation: OpRead, RecordType: "MX"}); code != CodeRecordTypeDenied {
			t.Errorf("Permits MX = %q", code)
		}
	})

	t.Run("read removed by token", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.token.AllowedOperations = []string{"update"}
		partial, err := f.resolver.Authenticate(ctx, f.raw, "198.51.100.7")
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		d, err := f.resolver.AuthorizeList(ctx, partial)
		if err != nil {
			t.Fatalf("AuthorizeList: %v", err)
		}
		if d.Code != CodeOperationDenied {
			t.Errorf("code = %q, want operation_denied", d.Code)
		}
	})
}

func TestDeny_RecordsCallerDecision(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	partial, err := f.resolver.Authenticate(context.Background(), f.raw, "198.51.100.7")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	d := f.resolver.Deny(partial, Target{Hostname: "other.org", Operation: OpRead}, CodeDomainDenied)
	if d.Granted || d.Code != CodeDomainDenied {
		t.Errorf("Deny = %+v", d)
	}
	if !partial.Granted {
		t.Error("Deny mutated the authenticated decision")
	}
	if o := f.recorder.last(t); o.Code != CodeDomainDenied || o.Hostname != "other.org" || o.TokenID == 0 {
		t.Errorf("outcome = %+v", o)
	}
}

func TestDecision_PermitsUnauthenticated(t *testing.T) {
	t.Parallel()
	d := &Decision{}
	if code := d.Permits(Target{Hostname: "x.example.com", Operation: OpRead, RecordType: "A"}); code != CodeInvalidFormat {
		t.Errorf("Permits on empty decision = %q", code)
	}
}

func TestResolve_RootDepthCountsFromZone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		maxDepth int
		hostname string
		want     ErrorCode
	}{
		{"realm apex at depth 1", 1, "iot.example.com", CodeNone},
		{"below realm exceeds root depth 1", 1, "a.iot.example.com", CodeDomainDenied},
		{"two below zone within depth 2", 2, "a.iot.example.com", CodeNone},
		{"three below zone exceeds depth 2", 2, "b.a.iot.example.com", CodeDomainDenied},
		{"unlimited", 0, "c.b.a.iot.example.com", CodeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.root.MaxSubdomainDepth = tt.maxDepth

			d, err := f.resolver.Resolve(context.Background(), f.request(tt.hostname, OpUpdate, "A"))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if d.Code != tt.want || d.Granted != (tt.want == CodeNone) {
				t.Errorf("Resolve(%q) at root depth %d: granted=%v code=%q, want %q",
					tt.hostname, tt.maxDepth, d.Granted, d.Code, tt.want)
			}
		})
	}
}

func TestIPAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		list  []string
		ip    string
		allow bool
	}{
		{"empty list allows all", nil, "203.0.113.9", true},
		{"exact v4", []string{"203.0.113.9"}, "203.0.113.9", true},
		{"exact miss", []string{"203.0.113.9"}, "203.0.113.10", false},
		{"cidr v4", []string{"203.0.113.0/24"}, "203.0.113.200", true},
		{"cidr miss", []string{"203.0.113.0/24"}, "198.51.100.1", false},
		{"cidr v6", []string{"2001:db8::/32"}, "2001:db8:1::5", true},
		{"v4-mapped v6", []string{"203.0.113.0/24"}, "::ffff:203.0.113.4", true},
		{"unparsable ip", []string{"203.0.113.0/24"}, "not-an-ip", false},
		{"bad entry skipped", []string{"garbage", "203.0.113.9"}, "203.0.113.9", true},
		{"whitespace entry", []string{" 203.0.113.9 "}, "203.0.113.9", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ipAllowed(tt.list, tt.ip); got != tt.allow {
				t.Errorf("ipAllowed(%v, %q) = %v, want %v", tt.list, tt.ip, got, tt.allow)
			}
		})
	}
}
