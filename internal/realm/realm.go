// Package realm decides whether a hostname belongs to a realm.
package realm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Type is the kind of realm.
type Type string

const (
	// TypeHost matches exactly one hostname.
	TypeHost Type = "host"
	// TypeSubdomain matches the realm value and every name below it.
	TypeSubdomain Type = "subdomain"
	// TypeSubdomainOnly matches names below the realm value but not the value itself.
	TypeSubdomainOnly Type = "subdomain_only"
)

// ErrInvalidName is returned when a name cannot be normalized.
var ErrInvalidName = errors.New("realm: invalid domain name")

// ErrInvalidType is returned for an unknown realm type.
var ErrInvalidType = errors.New("realm: invalid realm type")

// ParseType validates a realm type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeHost, TypeSubdomain, TypeSubdomainOnly:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// Normalize trims, lower-cases and strips one trailing dot.
// Empty names, empty labels and names that are not valid DNS names are rejected.
func Normalize(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", ErrInvalidName
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", ErrInvalidName
	}
	return name, nil
}

// Match reports whether hostname belongs to the realm (typ, value).
// Invalid input never matches.
func Match(typ Type, value, hostname string) bool {
	v, err := Normalize(value)
	if err != nil {
		return false
	}
	h, err := Normalize(hostname)
	if err != nil {
		return false
	}

	vLabels := dns.SplitDomainName(v)
	hLabels := dns.SplitDomainName(h)

	depth, ok := suffixDepth(hLabels, vLabels)
	if !ok {
		return false
	}

	switch typ {
	case TypeHost:
		return depth == 0
	case TypeSubdomain:
		return true
	case TypeSubdomainOnly:
		return depth > 0
	default:
		return false
	}
}

// WithinDepth reports whether hostname lies inside zone with at most
// maxDepth labels below the zone apex. Zero means unlimited. Depth is always
// counted from the zone, never from a realm carved out of it.
func WithinDepth(zone, hostname string, maxDepth int) bool {
	z, err := Normalize(zone)
	if err != nil {
		return false
	}
	h, err := Normalize(hostname)
	if err != nil {
		return false
	}
	depth, ok := suffixDepth(dns.SplitDomainName(h), dns.SplitDomainName(z))
	if !ok {
		return false
	}
	return maxDepth <= 0 || depth <= maxDepth
}

// suffixDepth returns how many labels hostname has in front of the realm
// labels, and false when the realm labels are not a label-aligned suffix.
func suffixDepth(hostname, realm []string) (int, bool) {
	if len(realm) == 0 || len(hostname) < len(realm) {
		return 0, false
	}
	offset := len(hostname) - len(realm)
	for i, label := range realm {
		if hostname[offset+i] != label {
			return 0, false
		}
	}
	return offset, true
}

// InZone reports whether hostname is the zone apex or a name inside it.
func InZone(zone, hostname string) bool {
	return Match(TypeSubdomain, zone, hostname)
}

// Relative returns hostname relative to zone, "@" for the apex.
// The caller must ensure hostname is inside zone.
func Relative(zone, hostname string) string {
	z, err := Normalize(zone)
	if err != nil {
		return hostname
	}
	h, err := Normalize(hostname)
	if err != nil {
		return hostname
	}
	if h == z {
		return "@"
	}
	return strings.TrimSuffix(h, "."+z)
}

// Absolute joins a zone-relative name with its zone. "@" and "" mean the apex.
func Absolute(zone, name string) string {
	zone = strings.TrimSuffix(strings.ToLower(zone), ".")
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if name == "" || name == "@" || name == zone {
		return zone
	}
	if strings.HasSuffix(name, "."+zone) {
		return name
	}
	return name + "." + zone
}
