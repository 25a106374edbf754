package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Code classifies an upstream failure. The values match the resolver's
// error codes so callers can convert with auth.ErrorCode(code).
type Code string

const (
	CodeUnreachable Code = "backend_unreachable"
	CodeRejected    Code = "backend_rejected"
	CodeTimeout     Code = "backend_timeout"
)

// Sentinel errors, matched by errors.Is against an *Error of the same code.
var (
	ErrUnreachable = errors.New("backend: unreachable")
	ErrRejected    = errors.New("backend: request rejected")
	ErrTimeout     = errors.New("backend: timeout")

	ErrMissingSetting = errors.New("missing required setting")
	ErrUnknownKind    = errors.New("backend: unknown provider")
	ErrRecordNotFound = errors.New("backend: record not found")
)

// Error is the only error type adapters return.
type Error struct {
	Code     Code
	Provider string
	Op       string
	// Status is the upstream HTTP status, 0 for transport failures.
	Status int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Op, e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the same code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Code == CodeUnreachable
	case ErrRejected:
		return e.Code == CodeRejected
	case ErrTimeout:
		return e.Code == CodeTimeout
	}
	return false
}

// Retryable reports whether a second attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodeTimeout || e.Code == CodeUnreachable
}

// NewError builds an *Error.
func NewError(code Code, provider, op string, err error) *Error {
	return &Error{Code: code, Provider: provider, Op: op, Err: err}
}

// Rejected reports an invalid request detected before any upstream call.
func Rejected(provider, op, format string, args ...any) *Error {
	return NewError(CodeRejected, provider, op, fmt.Errorf(format, args...))
}

// Classify converts a transport error into an *Error: deadline expiry is a
// timeout, everything else is unreachable. An *Error passes through.
func Classify(provider, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, provider, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(CodeTimeout, provider, op, err)
	}
	return NewError(CodeUnreachable, provider, op, err)
}

// StatusError maps a non-success upstream response. 5xx, 429 and 408 are
// treated as transient, other 4xx as a rejection. The body is kept for logs
// only and is never shown to API callers.
func StatusError(provider, op string, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}

	code := CodeRejected
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = CodeTimeout
	case status >= 500 || status == http.StatusTooManyRequests:
		code = CodeUnreachable
	}
	return &Error{Code: code, Provider: provider, Op: op, Status: status, Err: errors.New(msg)}
}

// CodeOf extracts the code of an adapter error. Non-adapter errors count as
// unreachable.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnreachable
}
