package auth

import "net/http"

// ErrorCode identifies exactly one failure cause. Codes are never merged:
// the classifier relies on the distinction for attack detection.
type ErrorCode string

// Error codes, in the order the resolver checks them.
const (
	CodeNone ErrorCode = ""

	CodeInvalidFormat       ErrorCode = "invalid_format"
	CodeAliasNotFound       ErrorCode = "alias_not_found"
	CodeTokenPrefixNotFound ErrorCode = "token_prefix_not_found"
	CodeTokenHashMismatch   ErrorCode = "token_hash_mismatch"
	CodeTokenRevoked        ErrorCode = "token_revoked"
	CodeTokenExpired        ErrorCode = "token_expired"
	CodeAccountDisabled     ErrorCode = "account_disabled"
	CodeRealmNotApproved    ErrorCode = "realm_not_approved"
	CodeIPDenied            ErrorCode = "ip_denied"
	CodeDomainDenied        ErrorCode = "domain_denied"
	CodeOperationDenied     ErrorCode = "operation_denied"
	CodeRecordTypeDenied    ErrorCode = "record_type_denied"

	CodeBackendUnreachable ErrorCode = "backend_unreachable"
	CodeBackendRejected    ErrorCode = "backend_rejected"
	CodeBackendTimeout     ErrorCode = "backend_timeout"
)

// AllCodes lists every error code.
var AllCodes = []ErrorCode{
	CodeInvalidFormat,
	CodeAliasNotFound,
	CodeTokenPrefixNotFound,
	CodeTokenHashMismatch,
	CodeTokenRevoked,
	CodeTokenExpired,
	CodeAccountDisabled,
	CodeRealmNotApproved,
	CodeIPDenied,
	CodeDomainDenied,
	CodeOperationDenied,
	CodeRecordTypeDenied,
	CodeBackendUnreachable,
	CodeBackendRejected,
	CodeBackendTimeout,
}

// IsAuthFailure reports whether the code means the credential itself was not
// accepted (token, account or realm state).
func (c ErrorCode) IsAuthFailure() bool {
	switch c {
	case CodeInvalidFormat, CodeAliasNotFound, CodeTokenPrefixNotFound, CodeTokenHashMismatch,
		CodeTokenRevoked, CodeTokenExpired, CodeAccountDisabled, CodeRealmNotApproved:
		return true
	}
	return false
}

// IsScopeDenial reports whether the credential was valid but the request
// falls outside its scope.
func (c ErrorCode) IsScopeDenial() bool {
	switch c {
	case CodeIPDenied, CodeDomainDenied, CodeOperationDenied, CodeRecordTypeDenied:
		return true
	}
	return false
}

// IsBackend reports whether the code describes an upstream provider failure.
func (c ErrorCode) IsBackend() bool {
	switch c {
	case CodeBackendUnreachable, CodeBackendRejected, CodeBackendTimeout:
		return true
	}
	return false
}

// HTTPStatus maps a code to the status returned to API callers.
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == CodeNone:
		return http.StatusOK
	case c.IsAuthFailure():
		return http.StatusUnauthorized
	case c.IsScopeDenial():
		return http.StatusForbidden
	case c == CodeBackendRejected:
		return http.StatusBadRequest
	case c == CodeBackendTimeout:
		return http.StatusGatewayTimeout
	case c == CodeBackendUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the generic text shown to callers. Internal codes
// never leave the process in responses.
func (c ErrorCode) PublicMessage() string {
	switch {
	case c.IsAuthFailure():
		return "authentication failed"
	case c.IsScopeDenial():
		return "permission denied"
	case c == CodeBackendRejected:
		return "request rejected by DNS provider"
	case c == CodeBackendTimeout:
		return "DNS provider timed out"
	case c == CodeBackendUnreachable:
		return "DNS provider unavailable"
	default:
		return "internal error"
	}
}
