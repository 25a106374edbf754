// Package backend defines the uniform contract every upstream DNS provider
// adapter implements, the error taxonomy adapters report with, and the
// registry that selects an adapter by provider tag.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Record is a provider-neutral DNS record.
type Record struct {
	// ID is the provider's identifier, opaque to callers.
	ID string `json:"id"`
	// Hostname is the FQDN without trailing dot, e.g. "device1.iot.example.com".
	Hostname    string `json:"hostname"`
	Type        string `json:"type"`
	Destination string `json:"destination"`
	// TTL in seconds, 0 = provider default.
	TTL      int  `json:"ttl,omitempty"`
	Priority *int `json:"priority,omitempty"`
}

// HealthStatus is the result of a connection test.
type HealthStatus struct {
	OK      bool          `json:"ok"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// Adapter is implemented by each provider.
//
// UpsertRecord is idempotent on (Hostname, Type): it replaces the existing
// record set if present and creates it otherwise. All errors are *Error.
type Adapter interface {
	ListRecords(ctx context.Context, zone string) ([]Record, error)
	UpsertRecord(ctx context.Context, zone string, rec Record) (Record, error)
	DeleteRecord(ctx context.Context, zone, recordID string) error
	TestConnection(ctx context.Context) (HealthStatus, error)
}

// RequireSettings checks that every key is present and non-empty.
func RequireSettings(provider string, settings map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(settings[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: %s", provider, ErrMissingSetting, strings.Join(missing, ", "))
	}
	return nil
}

// Setting returns settings[key] or def when unset.
func Setting(settings map[string]string, key, def string) string {
	if v := strings.TrimSpace(settings[key]); v != "" {
		return v
	}
	return def
}

// FindRecord returns the first record matching hostname and type.
func FindRecord(records []Record, hostname, recordType string) (Record, bool) {
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")
	for _, r := range records {
		if strings.EqualFold(r.Type, recordType) && strings.TrimSuffix(strings.ToLower(r.Hostname), ".") == hostname {
			return r, true
		}
	}
	return Record{}, false
}
