package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/sipico/netcup-api-filter/internal/metrics"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
	"github.com/sipico/netcup-api-filter/internal/token"
)

// Store is the subset of storage the resolver reads. Lookups go through the
// (alias, prefix) index, never a table scan.
type Store interface {
	GetAccountByAlias(ctx context.Context, alias string) (*storage.Account, error)
	GetTokenByPrefix(ctx context.Context, accountID int64, prefix string) (*storage.Token, error)
	GetRealm(ctx context.Context, id int64) (*storage.Realm, error)
	GetDomainRoot(ctx context.Context, id int64) (*storage.DomainRoot, error)
	GetBackendService(ctx context.Context, id int64) (*storage.BackendService, error)
	TouchToken(ctx context.Context, id int64, ip string, at time.Time) error
}

// Recorder receives every authorization outcome.
type Recorder interface {
	Record(Outcome)
}

// Target is what a request wants to do.
type Target struct {
	Hostname   string
	Operation  Operation
	RecordType string
}

// Request is a complete authorization request.
type Request struct {
	Token    string
	SourceIP string
	Target
}

// Decision is the result of evaluating a request. Denials are values, not errors.
type Decision struct {
	Granted bool
	Code    ErrorCode

	SourceIP string

	// Attribution, filled as far as the chain got.
	Account *storage.Account
	Token   *storage.Token
	Realm   *storage.Realm

	// Set once the credential is accepted.
	Root    *storage.DomainRoot
	Backend *storage.BackendService
	Scope   Scope

	authenticated bool
}

// Outcome is the structured record of one authorization attempt.
type Outcome struct {
	Granted    bool
	Code       ErrorCode
	AccountID  int64 // 0 when the alias did not resolve
	TokenID    int64 // 0 before prefix resolution
	RealmID    int64
	SourceIP   string
	Hostname   string
	Operation  Operation
	RecordType string
	// HasIPAllowList is set when the token carries an allow-list.
	HasIPAllowList bool
	Time           time.Time
}

// Zone returns the zone of the realm's domain root, "" before authentication.
func (d *Decision) Zone() string {
	if d.Root == nil {
		return ""
	}
	return d.Root.Zone
}

// Permits evaluates steps 6 to 8 for a target without recording anything.
// Handlers use it to filter list results after a recorded read grant.
func (d *Decision) Permits(t Target) ErrorCode {
	if !d.authenticated {
		return CodeInvalidFormat
	}

	if !realm.Match(d.Realm.Type, d.Realm.Value, t.Hostname) {
		return CodeDomainDenied
	}
	if !realm.WithinDepth(d.Root.Zone, t.Hostname, d.Root.MaxSubdomainDepth) {
		return CodeDomainDenied
	}
	if !d.Scope.AllowsOperation(t.Operation) {
		return CodeOperationDenied
	}
	if !d.Scope.AllowsRecordType(t.RecordType) {
		return CodeRecordTypeDenied
	}
	return CodeNone
}

func (d *Decision) outcome(t Target, now time.Time) Outcome {
	o := Outcome{
		Granted:    d.Granted,
		Code:       d.Code,
		SourceIP:   d.SourceIP,
		Hostname:   t.Hostname,
		Operation:  t.Operation,
		RecordType: t.RecordType,
		Time:       now,
	}
	if d.Account != nil {
		o.AccountID = d.Account.ID
	}
	if d.Token != nil {
		o.TokenID = d.Token.ID
		o.RealmID = d.Token.RealmID
		o.HasIPAllowList = len(d.Token.IPAllowList) > 0
	}
	return o
}

// Resolver runs the ordered authorization chain.
type Resolver struct {
	store    Store
	codec    *token.Codec
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRecorder sets the outcome recorder (the security classifier).
func WithRecorder(r Recorder) Option {
	return func(res *Resolver) {
		res.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(res *Resolver) {
		res.logger = l
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(res *Resolver) {
		res.now = now
	}
}

// NewResolver creates a Resolver.
func NewResolver(store Store, codec *token.Codec, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		codec:  codec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the full chain for one request and records the outcome.
// The error return is reserved for storage failures.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Decision, error) {
	d, err := r.authenticate(ctx, req.Token, req.SourceIP)
	if err != nil {
		return nil, err
	}
	if !d.Granted {
		r.record(d, req.Target)
		return d, nil
	}
	return r.Authorize(ctx, d, req.Target)
}

// Authenticate runs steps 1 to 5: token, account, realm and source IP.
// Denials are recorded. A granted result is a partial decision and is not
// recorded until it is completed with Authorize.
func (r *Resolver) Authenticate(ctx context.Context, raw, sourceIP string) (*Decision, error) {
	d, err := r.authenticate(ctx, raw, sourceIP)
	if err != nil {
		return nil, err
	}
	if !d.Granted {
		r.record(d, Target{})
	}
	return d, nil
}

// Authorize runs steps 6 to 8 on an authenticated decision and records the
// outcome. On grant the token's last-used metadata is updated.
func (r *Resolver) Authorize(ctx context.Context, auth *Decision, t Target) (*Decision, error) {
	d := *auth
	if !d.authenticated {
		return &d, nil
	}
	return r.finish(ctx, &d, t, d.Permits(t)), nil
}

// AuthorizeList grants reading the realm as a whole. Hostname and record type
// checks are applied per record by the caller through Permits.
func (r *Resolver) AuthorizeList(ctx context.Context, auth *Decision) (*Decision, error) {
	d := *auth
	if !d.authenticated {
		return &d, nil
	}

	code := CodeNone
	if !d.Scope.AllowsOperation(OpRead) {
		code = CodeOperationDenied
	}
	return r.finish(ctx, &d, Target{Hostname: d.Realm.Value, Operation: OpRead}, code), nil
}

// Deny records a denial the caller decided on, for example a request naming
// a zone other than the realm's root.
func (r *Resolver) Deny(auth *Decision, t Target, code ErrorCode) *Decision {
	d := *auth
	deny(&d, code)
	r.record(&d, t)
	return &d
}

func (r *Resolver) finish(ctx context.Context, d *Decision, t Target, code ErrorCode) *Decision {
	d.Code = code
	d.Granted = code == CodeNone

	if d.Granted {
		if err := r.store.TouchToken(ctx, d.Token.ID, d.SourceIP, r.now()); err != nil {
			r.logger.Warn("failed to update token usage",
				"token_id", d.Token.ID,
				"error", err)
		}
	}

	r.record(d, t)
	return d
}

func (r *Resolver) authenticate(ctx context.Context, raw, sourceIP string) (*Decision, error) {
	d := &Decision{SourceIP: sourceIP}

	// 1. parse, alias, prefix, hash
	parsed, err := token.Parse(raw)
	if err != nil {
		return deny(d, CodeInvalidFormat), nil
	}

	account, err := r.store.GetAccountByAlias(ctx, parsed.Alias)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return deny(d, CodeAliasNotFound), nil
		}
		return nil, fmt.Errorf("lookup alias: %w", err)
	}
	d.Account = account

	tok, err := r.store.GetTokenByPrefix(ctx, account.ID, parsed.Prefix())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return deny(d, CodeTokenPrefixNotFound), nil
		}
		return nil, fmt.Errorf("lookup token prefix: %w", err)
	}
	d.Token = tok

	if !r.codec.Verify(raw, tok.Hash) {
		return deny(d, CodeTokenHashMismatch), nil
	}

	// 2. token state
	if !tok.Active {
		return deny(d, CodeTokenRevoked), nil
	}
	if tok.Expired(r.now()) {
		return deny(d, CodeTokenExpired), nil
	}

	// 3. account state
	if !account.Active {
		return deny(d, CodeAccountDisabled), nil
	}

	// 4. realm state
	rlm, err := r.store.GetRealm(ctx, tok.RealmID)
	if err != nil {
		return nil, fmt.Errorf("load realm %d: %w", tok.RealmID, err)
	}
	d.Realm = rlm
	if rlm.Status != storage.RealmApproved {
		return deny(d, CodeRealmNotApproved), nil
	}

	// 5. source IP
	if !ipAllowed(tok.IPAllowList, sourceIP) {
		return deny(d, CodeIPDenied), nil
	}

	root, err := r.store.GetDomainRoot(ctx, rlm.DomainRootID)
	if err != nil {
		return nil, fmt.Errorf("load domain root %d: %w", rlm.DomainRootID, err)
	}
	backend, err := r.store.GetBackendService(ctx, root.BackendServiceID)
	if err != nil {
		return nil, fmt.Errorf("load backend service %d: %w", root.BackendServiceID, err)
	}

	d.Root = root
	d.Backend = backend
	d.Scope = EffectiveScope(RootScope(root), RealmScope(rlm), TokenScope(tok))
	d.Granted = true
	d.authenticated = true
	return d, nil
}

func deny(d *Decision, code ErrorCode) *Decision {
	d.Granted = false
	d.Code = code
	return d
}

func (r *Resolver) record(d *Decision, t Target) {
	o := d.outcome(t, r.now())

	code := string(o.Code)
	if o.Granted {
		code = "granted"
	}
	metrics.RecordAuthOutcome(code)

	if r.recorder != nil {
		r.recorder.Record(o)
	}
}

// ipAllowed reports whether ip matches the allow-list. An empty list allows
// every address; an unparsable address never matches a non-empty list.
func ipAllowed(allowList []string, ip string) bool {
	if len(allowList) == 0 {
		return true
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, entry := range allowList {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err == nil && allowed.Unmap() == addr {
			return true
		}
	}
	return false
}
