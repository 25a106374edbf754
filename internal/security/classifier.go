// Package security correlates authorization outcomes into attack patterns.
//
// The Classifier is advisory: detections go to a Notifier and to metrics and
// never influence an authorization decision.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/metrics"
)

// Pattern names a detected attack pattern.
type Pattern string

const (
	PatternBruteForce         Pattern = "brute_force"
	PatternCredentialStuffing Pattern = "credential_stuffing"
	PatternScopeProbing       Pattern = "scope_probing"
	PatternCredentialTheft    Pattern = "credential_theft"
)

// Severity of a detection.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Default thresholds and limits.
const (
	DefaultWindow               = 5 * time.Minute
	DefaultMaxKeys              = 10000
	BruteForceThreshold         = 3
	CredentialStuffingThreshold = 5
	ScopeProbingThreshold       = 3
)

// Detection is one flagged pattern.
type Detection struct {
	Pattern   Pattern
	Severity  Severity
	AccountID int64
	TokenID   int64
	SourceIP  string
	// Count is the number of matching events inside the window.
	Count     int
	Hostnames []string
	Time      time.Time
}

// Notifier receives detections. Implementations must not block.
type Notifier interface {
	Notify(Detection)
}

// AuditSink receives every outcome, granted or not.
type AuditSink interface {
	Audit(auth.Outcome)
}

// event is one timestamped failure inside a window.
type event struct {
	at       time.Time
	code     auth.ErrorCode
	hostname string
}

// window holds the recent events of one key.
type window struct {
	mu     sync.Mutex
	events []event
}

// add appends e, drops events older than cutoff and returns the events
// still inside the window.
func (w *window) add(e event, cutoff time.Time) []event {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.events[:0]
	for _, old := range w.events {
		if old.at.After(cutoff) {
			kept = append(kept, old)
		}
	}
	w.events = append(kept, e)
	return append([]event(nil), w.events...)
}

func (w *window) count(cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, e := range w.events {
		if e.at.After(cutoff) {
			n++
		}
	}
	return n
}

// Classifier keeps sliding windows per token, per source IP and per account.
// It implements auth.Recorder.
type Classifier struct {
	window   time.Duration
	maxKeys  int
	notifier Notifier
	audit    AuditSink
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex // guards get-or-create on the maps below
	tokens   *expirable.LRU[int64, *window]
	ips      *expirable.LRU[string, *window]
	accounts *expirable.LRU[int64, *window]
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithWindow sets the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithMaxKeys bounds the number of tracked keys per dimension.
func WithMaxKeys(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxKeys = n
		}
	}
}

// WithNotifier sets where detections go. The default logs them.
func WithNotifier(n Notifier) Option {
	return func(c *Classifier) {
		c.notifier = n
	}
}

// WithAuditSink sets where every outcome goes. The default logs them.
func WithAuditSink(a AuditSink) Option {
	return func(c *Classifier) {
		c.audit = a
	}
}

// WithLogger sets the logger used by the default notifier and sink.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		c.log = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		c.now = now
	}
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		window:  DefaultWindow,
		maxKeys: DefaultMaxKeys,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.log}
	}
	if c.audit == nil {
		c.audit = LogAuditSink{Logger: c.log}
	}
	c.tokens = expirable.NewLRU[int64, *window](c.maxKeys, nil, c.window)
	c.ips = expirable.NewLRU[string, *window](c.maxKeys, nil, c.window)
	c.accounts = expirable.NewLRU[int64, *window](c.maxKeys, nil, c.window)
	return c
}

// Reset clears all windows.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens.Purge()
	c.ips.Purge()
	c.accounts.Purge()
}

// Record implements auth.Recorder.
func (c *Classifier) Record(o auth.Outcome) {
	c.audit.Audit(o)

	if o.Granted || o.Code == auth.CodeNone {
		return
	}

	at := o.Time
	if at.IsZero() {
		at = c.now()
	}
	cutoff := at.Add(-c.window)
	e := event{at: at, code: o.Code, hostname: o.Hostname}

	if o.AccountID != 0 && (o.Code.IsAuthFailure() || o.Code == auth.CodeIPDenied) {
		lookup(c, c.accounts, o.AccountID).add(e, cutoff)
	}

	switch o.Code {
	case auth.CodeTokenHashMismatch:
		if o.TokenID == 0 {
			return
		}
		events := lookup(c, c.tokens, o.TokenID).add(e, cutoff)
		if n := countCode(events, auth.CodeTokenHashMismatch); n == BruteForceThreshold {
			c.detect(Detection{Pattern: PatternBruteForce, Severity: SeverityWarning, Count: n}, o, at)
		}

	case auth.CodeAliasNotFound, auth.CodeTokenPrefixNotFound:
		if o.SourceIP == "" {
			return
		}
		events := lookup(c, c.ips, o.SourceIP).add(e, cutoff)
		n := countCode(events, auth.CodeAliasNotFound) + countCode(events, auth.CodeTokenPrefixNotFound)
		if n == CredentialStuffingThreshold {
			c.detect(Detection{Pattern: PatternCredentialStuffing, Severity: SeverityWarning, Count: n}, o, at)
		}

	case auth.CodeDomainDenied:
		if o.TokenID == 0 {
			return
		}
		events := lookup(c, c.tokens, o.TokenID).add(e, cutoff)
		hosts := distinctHosts(events)
		// Fire when a new hostname brings the count to the threshold.
		if len(hosts) == ScopeProbingThreshold && isNewHost(events, o.Hostname) {
			c.detect(Detection{Pattern: PatternScopeProbing, Severity: SeverityWarning, Count: len(hosts), Hostnames: hosts}, o, at)
		}

	case auth.CodeIPDenied:
		c.detect(Detection{Pattern: PatternCredentialTheft, Severity: SeverityCritical, Count: 1}, o, at)
	}
}

// RecentFailures returns the number of authentication failures attributed to
// an account inside the window.
func (c *Classifier) RecentFailures(accountID int64) int {
	c.mu.Lock()
	w, ok := c.accounts.Peek(accountID)
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return w.count(c.now().Add(-c.window))
}

func (c *Classifier) detect(d Detection, o auth.Outcome, at time.Time) {
	d.AccountID = o.AccountID
	d.TokenID = o.TokenID
	d.SourceIP = o.SourceIP
	d.Time = at
	if d.Pattern != PatternScopeProbing && o.Hostname != "" {
		d.Hostnames = []string{o.Hostname}
	}

	metrics.RecordSecurityPattern(string(d.Pattern))
	c.notifier.Notify(d)
}

// lookup returns the window for key, creating it when absent. Every call
// refreshes the key's expiry.
func lookup[K comparable](c *Classifier, cache *expirable.LRU[K, *window], key K) *window {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := cache.Get(key)
	if !ok {
		w = &window{}
	}
	cache.Add(key, w)
	return w
}

func countCode(events []event, code auth.ErrorCode) int {
	n := 0
	for _, e := range events {
		if e.code == code {
			n++
		}
	}
	return n
}

func distinctHosts(events []event) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, e := range events {
		if e.code != auth.CodeDomainDenied || e.hostname == "" || seen[e.hostname] {
			continue
		}
		seen[e.hostname] = true
		hosts = append(hosts, e.hostname)
	}
	return hosts
}

// isNewHost reports whether the last event's hostname appears only once.
func isNewHost(events []event, hostname string) bool {
	n := 0
	for _, e := range events {
		if e.code == auth.CodeDomainDenied && e.hostname == hostname {
			n++
		}
	}
	return n == 1
}

// LogNotifier logs detections. Critical detections log at error level.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(d Detection) {
	level := slog.LevelWarn
	if d.Severity == SeverityCritical {
		level = slog.LevelError
	}
	n.Logger.Log(context.Background(), level, "security pattern detected",
		"pattern", string(d.Pattern),
		"severity", string(d.Severity),
		"account_id", d.AccountID,
		"token_id", d.TokenID,
		"source_ip", d.SourceIP,
		"count", d.Count,
		"hostnames", d.Hostnames,
	)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Detection)

// Notify implements Notifier.
func (f NotifierFunc) Notify(d Detection) { f(d) }

// LogAuditSink writes one structured event per outcome.
type LogAuditSink struct {
	Logger *slog.Logger
}

// Audit implements AuditSink.
func (s LogAuditSink) Audit(o auth.Outcome) {
	code := string(o.Code)
	if o.Granted {
		code = "granted"
	}
	level := slog.LevelInfo
	if !o.Granted {
		level = slog.LevelWarn
	}
	s.Logger.Log(context.Background(), level, "authorization",
		"outcome", code,
		"account_id", o.AccountID,
		"token_id", o.TokenID,
		"source_ip", o.SourceIP,
		"hostname", o.Hostname,
		"operation", string(o.Operation),
		"record_type", o.RecordType,
	)
}
