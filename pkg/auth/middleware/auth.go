// Package middleware provides HTTP authentication middleware wrapping
// pkg/auth/service.Service, per spec.md §4.4 and §6.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/logger"
)

// Authenticator is the subset of *service.Service the middleware depends
// on; kept as an interface so transports can substitute a stub in tests.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.UserSession, error)
}

// TokenMiddleware validates the Authorization header's bearer token via
// svc and, on success, stores the resulting UserSession in the request
// context. On failure it writes a spec-compliant WWW-Authenticate
// challenge and the status code the error's Code maps to (401 for every
// validation failure, 403 for AUTHENTICATION_REJECTED, per spec.md §7).
func TokenMiddleware(svc Authenticator, realm, resourceMetadataURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeChallenge(w, realm, resourceMetadataURL, false, "")
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeChallenge(w, realm, resourceMetadataURL, false, "")
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			session, err := svc.Authenticate(r.Context(), tokenString)
			if err != nil {
				status := http.StatusUnauthorized
				if authErr, ok := auth.AsAuthError(err); ok {
					status = authErr.HTTPStatus()
				}
				writeChallenge(w, realm, resourceMetadataURL, true, sanitize(err))
				http.Error(w, fmt.Sprintf("invalid token: %v", sanitize(err)), status)
				return
			}

			// Defense in depth: re-check rejected on every request even
			// though Authenticate already refuses to return a rejected
			// session, closing the window where a role was revoked
			// between token issuance and this request.
			if session.Rejected {
				logger.Warnf("middleware: rejected session %s reached TokenMiddleware post-authenticate", session.UserID)
				writeChallenge(w, realm, resourceMetadataURL, true, "authentication rejected")
				http.Error(w, "authentication rejected", http.StatusForbidden)
				return
			}

			ctx := auth.WithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sanitize strips internal wrapped-error detail from client-facing
// messages; only the top-level auth.Error message (never a cause chain
// that might include IdP response bodies) is surfaced.
func sanitize(err error) string {
	if authErr, ok := auth.AsAuthError(err); ok {
		return authErr.Message
	}
	return "invalid token"
}

func writeChallenge(w http.ResponseWriter, realm, resourceMetadataURL string, includeError bool, description string) {
	w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(realm, resourceMetadataURL, includeError, description))
}

// buildWWWAuthenticate builds an RFC 6750 / RFC 9728 compliant value.
func buildWWWAuthenticate(realm, resourceMetadataURL string, includeError bool, errDescription string) string {
	parts := []string{fmt.Sprintf(`realm="%s"`, escapeQuotes(realm))}

	if resourceMetadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, escapeQuotes(resourceMetadataURL)))
	}
	if includeError {
		parts = append(parts, `error="invalid_token"`)
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, escapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// EscapeQuotes escapes backslashes and quotes for use inside an HTTP
// quoted-string, per RFC 7230 §3.2.6.
func EscapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

func escapeQuotes(s string) string { return EscapeQuotes(s) }
