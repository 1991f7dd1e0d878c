// Package auth defines the authenticated-subject data model shared across
// the resource-server core: the Role taxonomy, UserSession, and the
// request-context plumbing used to carry a session through a single
// request's lifetime (spec.md §3).
package auth

import "context"

// Role is the primary internal role assigned to an authenticated subject.
type Role string

// The closed set of primary roles. Unassigned is the fail-safe sentinel:
// a session carrying it can perform no authorized action (spec.md
// Glossary, "Unassigned role").
const (
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
	RoleGuest      Role = "guest"
	RoleUnassigned Role = "unassigned"
)

// UserSession is the authenticated subject materialized for a single
// request. It is immutable once constructed; requests always get a fresh
// session (spec.md §3).
type UserSession struct {
	// SchemaVersion supports forward-compatible migration of persisted or
	// rehydrated sessions.
	SchemaVersion int

	UserID         string
	Username       string
	LegacyUsername string // optional: may be supplied later by a delegation token

	Role        Role
	CustomRoles []string
	Scopes      []string

	// Claims holds the full decoded JWT payload, plus "access_token": the
	// original raw JWT string, required for on-behalf-of token exchange.
	Claims map[string]any

	// Rejected is true when role mapping rejected the subject under strict
	// policy (rejectUnmappedRoles). A rejected session must never be
	// treated as authorized, even though it was successfully authenticated.
	Rejected bool

	// SessionID is an opaque transport-supplied correlation id used to
	// scope the delegation token cache. Empty means caching is disabled
	// for this request.
	SessionID string
}

// AccessToken returns the raw bearer JWT carried in Claims["access_token"],
// or "" if absent.
func (s *UserSession) AccessToken() string {
	if s == nil || s.Claims == nil {
		return ""
	}
	tok, _ := s.Claims["access_token"].(string)
	return tok
}

// HasScope reports whether the session's raw OAuth scopes include scope.
func (s *UserSession) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the session's primary role or custom roles
// intersect with the given set.
func (s *UserSession) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if string(s.Role) == r {
			return true
		}
		for _, cr := range s.CustomRoles {
			if cr == r {
				return true
			}
		}
	}
	return false
}

// sessionContextKey is the context key type used to carry a *UserSession
// through a single request.
type sessionContextKey struct{}

// WithSession returns a context carrying session.
func WithSession(ctx context.Context, session *UserSession) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext retrieves the session stored by WithSession.
func SessionFromContext(ctx context.Context) (*UserSession, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*UserSession)
	return s, ok
}
