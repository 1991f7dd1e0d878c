// Package authz implements the two-tier authorization and tool-execution
// envelope of spec.md §4.10: a soft visibility predicate for tool
// discovery, a hard enforcement tier raising typed AuthorizationErrors,
// and a standard success/failure response envelope shared by every tool.
package authz

import "net/http"

// ErrorCode is the closed union of failure codes a tool envelope may
// carry, per spec.md §4.10. Modules may declare additional custom codes;
// the type itself stays open (a plain string) so a module's own code
// still flows through the envelope untouched.
type ErrorCode string

const (
	ErrCodeUnauthenticated         ErrorCode = "UNAUTHENTICATED"
	ErrCodeInsufficientPermissions ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeInvalidInput            ErrorCode = "INVALID_INPUT"
	ErrCodeDelegationFailed        ErrorCode = "DELEGATION_FAILED"
	ErrCodeModuleNotAvailable      ErrorCode = "MODULE_NOT_AVAILABLE"
	ErrCodeInternalError           ErrorCode = "INTERNAL_ERROR"
)

// httpStatus maps the built-in codes to an HTTP status hint for
// transport-level challenge responses (spec.md §7's 401/403 semantics).
// Custom codes declared by a module default to 400 via statusForCode.
var httpStatus = map[ErrorCode]int{
	ErrCodeUnauthenticated:         http.StatusUnauthorized,
	ErrCodeInsufficientPermissions: http.StatusForbidden,
	ErrCodeInvalidInput:            http.StatusBadRequest,
	ErrCodeDelegationFailed:        http.StatusBadGateway,
	ErrCodeModuleNotAvailable:      http.StatusServiceUnavailable,
	ErrCodeInternalError:           http.StatusInternalServerError,
}

func statusForCode(code ErrorCode) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusBadRequest
}

// Envelope is the standard tool response shape: either
// {status:"success", data} or {status:"failure", code, message}.
type Envelope struct {
	Status  string    `json:"status"`
	Data    any       `json:"data,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Success builds a {status:"success"} envelope carrying data.
func Success(data any) Envelope {
	return Envelope{Status: "success", Data: data}
}

// Failure builds a {status:"failure"} envelope.
func Failure(code ErrorCode, message string) Envelope {
	return Envelope{Status: "failure", Code: code, Message: message}
}

// AuthorizationError is raised by the enforcement-tier helpers
// (RequireAuth, RequireAnyRole, RequireAllScopes) and by a tool handler's
// own hard checks. It carries an HTTP status, a closed ErrorCode, a
// human message, and an optional machine-readable detail (e.g. the
// scopes the caller was missing) for a transport-level WWW-Authenticate
// challenge.
type AuthorizationError struct {
	StatusCode int
	Code       ErrorCode
	Message    string
	Detail     any
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// NewAuthorizationError constructs an AuthorizationError whose
// StatusCode is derived from Code via statusForCode.
func NewAuthorizationError(code ErrorCode, message string, detail any) *AuthorizationError {
	return &AuthorizationError{StatusCode: statusForCode(code), Code: code, Message: message, Detail: detail}
}

// Envelope converts the error into the standard failure envelope,
// preserving its original code exactly as spec.md §4.10 requires.
func (e *AuthorizationError) Envelope() Envelope {
	return Failure(e.Code, e.Message)
}
