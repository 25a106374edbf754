// Package powerdns implements backend.Adapter for the PowerDNS Authoritative
// HTTP API.
package powerdns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/backend"
)

const (
	provider = "powerdns"

	// DefaultTTL is used when a record carries no TTL.
	DefaultTTL = 300
)

func init() {
	backend.Register(provider, func(log logr.Logger, settings map[string]string) (backend.Adapter, error) {
		return New(log, settings)
	})
}

// Client talks to one PowerDNS server.
type Client struct {
	baseURL    string
	apiKey     string
	serverID   string
	httpClient *http.Client
	log        logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a PowerDNS adapter.
// Required settings: api_url, api_key, server_id.
func New(log logr.Logger, settings map[string]string, opts ...Option) (*Client, error) {
	if err := backend.RequireSettings(provider, settings, "api_url", "api_key", "server_id"); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:  strings.TrimSuffix(strings.TrimSpace(settings["api_url"]), "/"),
		apiKey:   strings.TrimSpace(settings["api_key"]),
		serverID: strings.TrimSpace(settings["server_id"]),
		log:      log,
	}
	c.httpClient = backend.NewHTTPClient(log, nil)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type zone struct {
	Name   string  `json:"name"`
	RRSets []rrset `json:"rrsets"`
}

type rrset struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	TTL        int      `json:"ttl,omitempty"`
	ChangeType string   `json:"changetype,omitempty"`
	Records    []record `json:"records"`
}

type record struct {
	Content  string `json:"content"`
	Disabled bool   `json:"disabled"`
}

type patch struct {
	RRSets []rrset `json:"rrsets"`
}

// ListRecords implements backend.Adapter. Each content of an RRset becomes
// one record; all of them share the RRset id "name/TYPE".
func (c *Client) ListRecords(ctx context.Context, zoneName string) ([]backend.Record, error) {
	z, err := c.getZone(ctx, zoneName, "list")
	if err != nil {
		return nil, err
	}

	var out []backend.Record
	for _, set := range z.RRSets {
		for _, r := range set.Records {
			if r.Disabled {
				continue
			}
			out = append(out, toRecord(set, r.Content))
		}
	}
	return out, nil
}

// UpsertRecord implements backend.Adapter with a REPLACE of the RRset.
func (c *Client) UpsertRecord(ctx context.Context, zoneName string, rec backend.Record) (backend.Record, error) {
	ttl := rec.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	typ := strings.ToUpper(rec.Type)
	content := rec.Destination
	if rec.Priority != nil && (typ == "MX" || typ == "SRV") {
		content = strconv.Itoa(*rec.Priority) + " " + content
	}
	if typ == "TXT" && !strings.HasPrefix(content, `"`) {
		content = strconv.Quote(content)
	}

	set := rrset{
		Name:       canonical(rec.Hostname),
		Type:       typ,
		TTL:        ttl,
		ChangeType: "REPLACE",
		Records:    []record{{Content: content}},
	}
	if err := c.patchZone(ctx, zoneName, set, "upsert"); err != nil {
		return backend.Record{}, err
	}

	set.ChangeType = ""
	return toRecord(set, content), nil
}

// DeleteRecord implements backend.Adapter. recordID is the "name/TYPE" id
// returned by ListRecords; the whole RRset is removed.
func (c *Client) DeleteRecord(ctx context.Context, zoneName, recordID string) error {
	name, typ, ok := strings.Cut(recordID, "/")
	if !ok || name == "" || typ == "" {
		return backend.Rejected(provider, "delete", "invalid record id %q", recordID)
	}

	z, err := c.getZone(ctx, zoneName, "delete")
	if err != nil {
		return err
	}
	found := false
	for _, set := range z.RRSets {
		if strings.EqualFold(set.Name, canonical(name)) && strings.EqualFold(set.Type, typ) {
			found = true
			break
		}
	}
	if !found {
		return backend.NewError(backend.CodeRejected, provider, "delete", backend.ErrRecordNotFound)
	}

	return c.patchZone(ctx, zoneName, rrset{
		Name:       canonical(name),
		Type:       strings.ToUpper(typ),
		ChangeType: "DELETE",
		Records:    []record{},
	}, "delete")
}

// TestConnection implements backend.Adapter by fetching the server object.
func (c *Client) TestConnection(ctx context.Context) (backend.HealthStatus, error) {
	start := time.Now()

	var server struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, c.serverPath(), nil, &server, "test"); err != nil {
		return backend.HealthStatus{OK: false, Message: err.Error(), Latency: time.Since(start)}, err
	}
	return backend.HealthStatus{
		OK:      true,
		Message: fmt.Sprintf("PowerDNS %s (%s)", server.Version, server.ID),
		Latency: time.Since(start),
	}, nil
}

func (c *Client) getZone(ctx context.Context, zoneName, op string) (*zone, error) {
	var z zone
	if err := c.do(ctx, http.MethodGet, c.zonePath(zoneName), nil, &z, op); err != nil {
		return nil, err
	}
	return &z, nil
}

func (c *Client) patchZone(ctx context.Context, zoneName string, set rrset, op string) error {
	return c.do(ctx, http.MethodPatch, c.zonePath(zoneName), patch{RRSets: []rrset{set}}, nil, op)
}

func (c *Client) serverPath() string {
	return "/api/v1/servers/" + url.PathEscape(c.serverID)
}

func (c *Client) zonePath(zoneName string) string {
	return c.serverPath() + "/zones/" + url.PathEscape(canonical(zoneName))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, op string) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return backend.NewError(backend.CodeRejected, provider, op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backend.NewError(backend.CodeRejected, provider, op, err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backend.Classify(provider, op, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Classify(provider, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(op, resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// parseError prefers the "error" field PowerDNS puts in its JSON bodies.
func parseError(op string, status int, body []byte) *backend.Error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		body = []byte(apiErr.Error)
	}
	return backend.StatusError(provider, op, status, body)
}

func canonical(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

func toRecord(set rrset, content string) backend.Record {
	name := strings.TrimSuffix(set.Name, ".")
	typ := strings.ToUpper(set.Type)
	rec := backend.Record{
		ID:          name + "/" + typ,
		Hostname:    name,
		Type:        typ,
		Destination: content,
		TTL:         set.TTL,
	}

	switch typ {
	case "MX", "SRV":
		if prio, rest, ok := strings.Cut(content, " "); ok {
			if p, err := strconv.Atoi(prio); err == nil {
				rec.Priority = &p
				rec.Destination = rest
			}
		}
	case "TXT":
		if unquoted, err := strconv.Unquote(content); err == nil {
			rec.Destination = unquoted
		}
	}
	return rec
}
