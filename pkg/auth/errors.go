package auth

import (
	"errors"
	"net/http"
)

// Code is a closed-set error code carrying an HTTP status hint, per
// spec.md §7. Authentication failures are the subset produced by
// token validation and session materialization; authorization failures
// live in pkg/authz.
type Code string

const (
	CodeMalformedToken Code = "MALFORMED_TOKEN"
	CodeUnknownIssuer  Code = "UNKNOWN_ISSUER"
	CodeUnknownKey     Code = "UNKNOWN_KEY"
	CodeBadSignature   Code = "BAD_SIGNATURE"
	CodeExpired        Code = "EXPIRED"
	CodeNotYetValid    Code = "NOT_YET_VALID"
	CodeBadAudience    Code = "BAD_AUDIENCE"
	CodeBadAlgorithm   Code = "BAD_ALGORITHM"
	CodeClockSkew      Code = "CLOCK_SKEW"
	CodeAuthnRejected  Code = "AUTHENTICATION_REJECTED"
)

// httpStatus maps each Code to the HTTP status it carries per spec.md §7.
var httpStatus = map[Code]int{
	CodeMalformedToken: http.StatusUnauthorized,
	CodeUnknownIssuer:  http.StatusUnauthorized,
	CodeUnknownKey:     http.StatusUnauthorized,
	CodeBadSignature:   http.StatusUnauthorized,
	CodeExpired:        http.StatusUnauthorized,
	CodeNotYetValid:    http.StatusUnauthorized,
	CodeBadAudience:    http.StatusUnauthorized,
	CodeBadAlgorithm:   http.StatusUnauthorized,
	CodeClockSkew:      http.StatusUnauthorized,
	CodeAuthnRejected:  http.StatusForbidden,
}

// Error is a typed authentication error carrying a closed Code and an HTTP
// status hint.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status hint for this error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusUnauthorized
}

// NewError constructs an *Error with the given code, message, and optional
// wrapped cause.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// AsAuthError extracts an *Error from err via errors.As.
func AsAuthError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
