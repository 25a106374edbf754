package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// AdminKey verifies the admin API bearer credential configured at startup.
// Only the SHA-256 digest is kept in memory.
type AdminKey struct {
	hash [sha256.Size]byte
}

// NewAdminKey creates an AdminKey from the raw ADMIN_TOKEN value.
func NewAdminKey(token string) *AdminKey {
	return &AdminKey{hash: sha256.Sum256([]byte(token))}
}

// Matches checks a presented key in constant time.
func (k *AdminKey) Matches(presented string) bool {
	if presented == "" {
		return false
	}
	h := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(h[:], k.hash[:]) == 1
}
