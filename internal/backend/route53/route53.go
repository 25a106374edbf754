// Package route53 implements backend.Adapter for Amazon Route 53 using the
// 2013-04-01 REST API, signed with AWS Signature Version 4.
package route53

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/go-logr/logr"

	"github.com/sipico/netcup-api-filter/internal/backend"
)

const (
	provider = "route53"

	// DefaultEndpoint is the global Route 53 API endpoint.
	DefaultEndpoint = "https://route53.amazonaws.com"
	// DefaultRegion is the signing region of the global endpoint.
	DefaultRegion = "us-east-1"
	// DefaultTTL is used when a record carries no TTL.
	DefaultTTL = 300

	apiVersion = "2013-04-01"
	xmlns      = "https://route53.amazonaws.com/doc/2013-04-01/"
	service    = "route53"
	maxItems   = 300
)

func init() {
	backend.Register(provider, func(log logr.Logger, settings map[string]string) (backend.Adapter, error) {
		return New(log, settings)
	})
}

// Client manages one hosted zone.
type Client struct {
	endpoint     string
	region       string
	hostedZoneID string
	creds        aws.Credentials
	signer       *v4.Signer
	httpClient   *http.Client
	log          logr.Logger
	now          func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a Route 53 adapter.
// Required settings: access_key_id, secret_access_key, hosted_zone_id.
// Optional: region, endpoint, session_token.
func New(log logr.Logger, settings map[string]string, opts ...Option) (*Client, error) {
	if err := backend.RequireSettings(provider, settings, "access_key_id", "secret_access_key", "hosted_zone_id"); err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:     strings.TrimSuffix(backend.Setting(settings, "endpoint", DefaultEndpoint), "/"),
		region:       backend.Setting(settings, "region", DefaultRegion),
		hostedZoneID: strings.TrimPrefix(strings.TrimSpace(settings["hosted_zone_id"]), "/hostedzone/"),
		creds: aws.Credentials{
			AccessKeyID:     strings.TrimSpace(settings["access_key_id"]),
			SecretAccessKey: strings.TrimSpace(settings["secret_access_key"]),
			SessionToken:    strings.TrimSpace(settings["session_token"]),
			Source:          "netcup-api-filter",
		},
		signer: v4.NewSigner(),
		log:    log,
		now:    time.Now,
	}
	c.httpClient = backend.NewHTTPClient(log, nil)

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type resourceRecord struct {
	Value string `xml:"Value"`
}

type resourceRecordSet struct {
	Name            string           `xml:"Name"`
	Type            string           `xml:"Type"`
	TTL             int              `xml:"TTL,omitempty"`
	ResourceRecords []resourceRecord `xml:"ResourceRecords>ResourceRecord"`
	// Alias targets have no ResourceRecords and cannot be managed here.
	AliasTarget *struct {
		DNSName string `xml:"DNSName"`
	} `xml:"AliasTarget,omitempty"`
}

type listResponse struct {
	XMLName            xml.Name            `xml:"ListResourceRecordSetsResponse"`
	ResourceRecordSets []resourceRecordSet `xml:"ResourceRecordSets>ResourceRecordSet"`
	IsTruncated        bool                `xml:"IsTruncated"`
	NextRecordName     string              `xml:"NextRecordName"`
	NextRecordType     string              `xml:"NextRecordType"`
}

type change struct {
	Action            string            `xml:"Action"`
	ResourceRecordSet resourceRecordSet `xml:"ResourceRecordSet"`
}

type changeRequest struct {
	XMLName xml.Name `xml:"ChangeResourceRecordSetsRequest"`
	Xmlns   string   `xml:"xmlns,attr"`
	Comment string   `xml:"ChangeBatch>Comment,omitempty"`
	Changes []change `xml:"ChangeBatch>Changes>Change"`
}

type changeResponse struct {
	XMLName    xml.Name `xml:"ChangeResourceRecordSetsResponse"`
	ChangeInfo struct {
		ID     string `xml:"Id"`
		Status string `xml:"Status"`
	} `xml:"ChangeInfo"`
}

type hostedZoneResponse struct {
	XMLName    xml.Name `xml:"GetHostedZoneResponse"`
	HostedZone struct {
		ID   string `xml:"Id"`
		Name string `xml:"Name"`
	} `xml:"HostedZone"`
}

type errorResponse struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
}

// ListRecords implements backend.Adapter. Alias record sets are skipped.
// The zone argument only filters; the hosted zone is fixed by settings.
func (c *Client) ListRecords(ctx context.Context, zone string) ([]backend.Record, error) {
	sets, err := c.listSets(ctx, "list")
	if err != nil {
		return nil, err
	}

	var out []backend.Record
	for _, set := range sets {
		if set.AliasTarget != nil {
			continue
		}
		name := recordName(set.Name)
		if zone != "" && name != strings.ToLower(strings.TrimSuffix(zone, ".")) &&
			!strings.HasSuffix(name, "."+strings.ToLower(strings.TrimSuffix(zone, "."))) {
			continue
		}
		for _, rr := range set.ResourceRecords {
			out = append(out, toRecord(set, rr.Value))
		}
	}
	return out, nil
}

// UpsertRecord implements backend.Adapter with an UPSERT change.
func (c *Client) UpsertRecord(ctx context.Context, _ string, rec backend.Record) (backend.Record, error) {
	typ := strings.ToUpper(rec.Type)
	ttl := rec.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	value := rec.Destination
	if rec.Priority != nil && (typ == "MX" || typ == "SRV") {
		value = strconv.Itoa(*rec.Priority) + " " + value
	}
	if typ == "TXT" && !strings.HasPrefix(value, `"`) {
		value = strconv.Quote(value)
	}

	set := resourceRecordSet{
		Name:            fqdn(rec.Hostname),
		Type:            typ,
		TTL:             ttl,
		ResourceRecords: []resourceRecord{{Value: value}},
	}
	if err := c.changeSets(ctx, "upsert", change{Action: "UPSERT", ResourceRecordSet: set}); err != nil {
		return backend.Record{}, err
	}
	return toRecord(set, value), nil
}

// DeleteRecord implements backend.Adapter. Route 53 only deletes an exact
// match, so the current record set is read first.
func (c *Client) DeleteRecord(ctx context.Context, _ string, recordID string) error {
	name, typ, ok := strings.Cut(recordID, "/")
	if !ok || name == "" || typ == "" {
		return backend.Rejected(provider, "delete", "invalid record id %q", recordID)
	}

	sets, err := c.listSets(ctx, "delete")
	if err != nil {
		return err
	}
	for _, set := range sets {
		if recordName(set.Name) == strings.ToLower(name) && strings.EqualFold(set.Type, typ) && set.AliasTarget == nil {
			return c.changeSets(ctx, "delete", change{Action: "DELETE", ResourceRecordSet: set})
		}
	}
	return backend.NewError(backend.CodeRejected, provider, "delete", backend.ErrRecordNotFound)
}

// TestConnection implements backend.Adapter by reading the hosted zone.
func (c *Client) TestConnection(ctx context.Context) (backend.HealthStatus, error) {
	start := time.Now()

	var resp hostedZoneResponse
	if err := c.do(ctx, http.MethodGet, c.zonePath(), nil, nil, &resp, "test"); err != nil {
		return backend.HealthStatus{OK: false, Message: err.Error(), Latency: time.Since(start)}, err
	}
	return backend.HealthStatus{
		OK:      true,
		Message: "hosted zone " + strings.TrimSuffix(resp.HostedZone.Name, "."),
		Latency: time.Since(start),
	}, nil
}

func (c *Client) listSets(ctx context.Context, op string) ([]resourceRecordSet, error) {
	var all []resourceRecordSet
	query := url.Values{"maxitems": {strconv.Itoa(maxItems)}}
	for {
		var page listResponse
		if err := c.do(ctx, http.MethodGet, c.zonePath()+"/rrset", query, nil, &page, op); err != nil {
			return nil, err
		}
		all = append(all, page.ResourceRecordSets...)
		if !page.IsTruncated {
			return all, nil
		}
		query.Set("name", page.NextRecordName)
		query.Set("type", page.NextRecordType)
	}
}

func (c *Client) changeSets(ctx context.Context, op string, changes ...change) error {
	body, err := xml.Marshal(changeRequest{
		Xmlns:   xmlns,
		Comment: "netcup-api-filter " + op,
		Changes: changes,
	})
	if err != nil {
		return backend.NewError(backend.CodeRejected, provider, op, err)
	}
	body = append([]byte(xml.Header), body...)

	var resp changeResponse
	return c.do(ctx, http.MethodPost, c.zonePath()+"/rrset/", nil, body, &resp, op)
}

func (c *Client) zonePath() string {
	return "/" + apiVersion + "/hostedzone/" + url.PathEscape(c.hostedZoneID)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any, op string) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return backend.NewError(backend.CodeRejected, provider, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if err := c.signer.SignHTTP(ctx, c.creds, req, payloadHash, service, c.region, c.now()); err != nil {
		return backend.NewError(backend.CodeRejected, provider, op, fmt.Errorf("sign request: %w", err))
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

	if err := xml.Unmarshal(data, out); err != nil {
		return backend.NewError(backend.CodeUnreachable, provider, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// parseError reads the Route 53 ErrorResponse. Throttling is reported as a
// 400 but is transient.
func parseError(op string, status int, body []byte) *backend.Error {
	var er errorResponse
	if err := xml.Unmarshal(body, &er); err == nil && er.Error.Code != "" {
		msg := []byte(er.Error.Code + ": " + er.Error.Message)
		switch er.Error.Code {
		case "Throttling", "PriorRequestNotComplete":
			be := backend.StatusError(provider, op, status, msg)
			be.Code = backend.CodeUnreachable
			return be
		}
		return backend.StatusError(provider, op, status, msg)
	}
	return backend.StatusError(provider, op, status, body)
}

// recordName converts a Route 53 name to a lowercase hostname. Route 53
// returns "*" as the octal escape \052.
func recordName(name string) string {
	name = strings.ReplaceAll(name, `\052`, "*")
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

func fqdn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	return name
}

func toRecord(set resourceRecordSet, value string) backend.Record {
	name := recordName(set.Name)
	typ := strings.ToUpper(set.Type)
	rec := backend.Record{
		ID:          name + "/" + typ,
		Hostname:    name,
		Type:        typ,
		Destination: value,
		TTL:         set.TTL,
	}

	switch typ {
	case "MX", "SRV":
		if prio, rest, ok := strings.Cut(value, " "); ok {
			if p, err := strconv.Atoi(prio); err == nil {
				rec.Priority = &p
				rec.Destination = rest
			}
		}
	case "TXT":
		if unquoted, err := strconv.Unquote(value); err == nil {
			rec.Destination = unquoted
		}
	}
	return rec
}
