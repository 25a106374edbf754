package storage

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrInvalidKey is returned when an encryption key is not 32 bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")

	// ErrDecryption is returned when decryption fails due to wrong key or corrupted data.
	ErrDecryption = errors.New("decryption failed: wrong key or corrupted data")

	// ErrDuplicate is returned when attempting to create a resource that already exists.
	ErrDuplicate = errors.New("resource already exists")

	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAliasAssigned is returned when an account alias would be overwritten.
	ErrAliasAssigned = errors.New("account alias already assigned")

	// ErrInvalidTransition is returned for a realm status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTokenRevoked is returned when modifying a token that has been revoked.
	ErrTokenRevoked = errors.New("token is revoked")

	// ErrInUse is returned when a resource is still referenced.
	ErrInUse = errors.New("resource is in use")
)

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// (extended error code 2067).
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY constraint failure
// (extended error code 787).
func isForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}
