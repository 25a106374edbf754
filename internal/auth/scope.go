package auth

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sipico/netcup-api-filter/internal/storage"
)

// Operation is a DNS record operation a realm or token may be granted.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// AllOperations lists every operation.
var AllOperations = []Operation{OpRead, OpCreate, OpUpdate, OpDelete}

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(AllOperations, op) {
		return op, nil
	}
	return "", fmt.Errorf("auth: unknown operation %q", s)
}

// Scope is a set of permitted operations and record types.
// In a token layer a nil field means "inherit from the realm".
type Scope struct {
	Operations  []string
	RecordTypes []string
}

// RootScope returns the policy envelope of a domain root.
func RootScope(root *storage.DomainRoot) Scope {
	return Scope{Operations: root.AllowedOperations, RecordTypes: root.AllowedRecordTypes}
}

// RealmScope returns the grant of a realm.
func RealmScope(r *storage.Realm) Scope {
	return Scope{Operations: r.AllowedOperations, RecordTypes: r.AllowedRecordTypes}
}

// TokenScope returns the optional narrowing of a token.
func TokenScope(t *storage.Token) Scope {
	return Scope{Operations: t.AllowedOperations, RecordTypes: t.AllowedRecordTypes}
}

// EffectiveScope merges the three layers: root ∩ realm ∩ (token ?? realm).
// The result is never larger than any layer it is derived from.
func EffectiveScope(root, realm, token Scope) Scope {
	tokenOps := token.Operations
	if tokenOps == nil {
		tokenOps = realm.Operations
	}
	tokenTypes := token.RecordTypes
	if tokenTypes == nil {
		tokenTypes = realm.RecordTypes
	}

	return Scope{
		Operations:  intersect(normalizeOps(root.Operations), normalizeOps(realm.Operations), normalizeOps(tokenOps)),
		RecordTypes: intersect(normalizeTypes(root.RecordTypes), normalizeTypes(realm.RecordTypes), normalizeTypes(tokenTypes)),
	}
}

// AllowsOperation reports whether op is in the scope.
func (s Scope) AllowsOperation(op Operation) bool {
	return slices.Contains(s.Operations, string(op))
}

// AllowsRecordType reports whether the record type is in the scope.
func (s Scope) AllowsRecordType(recordType string) bool {
	return slices.Contains(s.RecordTypes, strings.ToUpper(recordType))
}

// SubsetOf reports whether every entry of s is also in parent. It is used when
// creating realms (realm ⊆ root) and tokens (token ⊆ realm); nil fields in s
// are treated as inheriting and always pass.
func (s Scope) SubsetOf(parent Scope) error {
	for _, op := range normalizeOps(s.Operations) {
		if !slices.Contains(normalizeOps(parent.Operations), op) {
			return fmt.Errorf("operation %q exceeds parent scope", op)
		}
	}
	for _, rt := range normalizeTypes(s.RecordTypes) {
		if !slices.Contains(normalizeTypes(parent.RecordTypes), rt) {
			return fmt.Errorf("record type %q exceeds parent scope", rt)
		}
	}
	return nil
}

// Validate checks that every operation is known and record types are non-empty.
func (s Scope) Validate() error {
	for _, op := range s.Operations {
		if _, err := ParseOperation(op); err != nil {
			return err
		}
	}
	for _, rt := range s.RecordTypes {
		if strings.TrimSpace(rt) == "" {
			return fmt.Errorf("auth: empty record type")
		}
	}
	return nil
}

func normalizeOps(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}

func normalizeTypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}

// intersect keeps the entries of first that appear in every other list,
// preserving the order of first and dropping duplicates.
func intersect(first []string, others ...[]string) []string {
	out := make([]string, 0, len(first))
	for _, v := range first {
		if slices.Contains(out, v) {
			continue
		}
		inAll := true
		for _, o := range others {
			if !slices.Contains(o, v) {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, v)
		}
	}
	return out
}
