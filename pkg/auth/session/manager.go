// Package session materializes validated JWT claims and a role-mapping
// result into an auth.UserSession, enforcing the invariants spec.md §4.3
// requires at construction time.
package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/auth/rolemap"
)

// CurrentSchemaVersion is the schema version stamped onto every newly
// constructed session.
const CurrentSchemaVersion = 1

// Manager constructs and migrates UserSessions.
type Manager struct{}

// NewManager returns a Manager. It holds no state; it exists as a type so
// callers can depend on an interface in tests.
func NewManager() *Manager { return &Manager{} }

// claimPaths describes where to read the mapped claims from the decoded
// JWT payload, per auth.ClaimMappings' dot-path convention. Only the
// top-level key is supported here; nested JSON-path lookups are the
// caller's (pkg/auth/token's) responsibility before claims reach us, since
// by this point claims is a flat jwt.MapClaims.
type claimPaths struct {
	legacyUsername string
	roles          string
	scopes         string
}

// CreateSession builds a UserSession from validated JWT claims and a role
// mapping result, enforcing the Unassigned/empty-scopes invariant.
//
// Per spec.md §4.3: "If roleResult.primaryRole == Unassigned and scopes
// non-empty -> abort with assertion". We implement this as a panic, since
// it signals a configuration bug (a role-mapping policy that can produce
// Unassigned with live scopes) rather than a client-triggerable condition;
// callers that materialize sessions from untrusted input should recover()
// at the authentication-service boundary exactly once.
func (*Manager) CreateSession(claims jwt.MapClaims, roleResult rolemap.Result, rawToken string) *auth.UserSession {
	scopes := extractScopes(claims)

	if roleResult.PrimaryRole == auth.RoleUnassigned && len(scopes) > 0 {
		panic(fmt.Sprintf(
			"CRITICAL: Unassigned role must have empty scopes (subject=%v, scopes=%v)",
			claims["sub"], scopes,
		))
	}

	userID, _ := claims["sub"].(string)

	claimsCopy := make(map[string]any, len(claims)+1)
	for k, v := range claims {
		claimsCopy[k] = v
	}
	claimsCopy["access_token"] = rawToken

	return &auth.UserSession{
		SchemaVersion:  CurrentSchemaVersion,
		UserID:         userID,
		Username:       stringClaim(claims, "preferred_username", "username", "name"),
		LegacyUsername: stringClaim(claims, "legacy_name", "legacy_username"),
		Role:           roleResult.PrimaryRole,
		CustomRoles:    roleResult.CustomRoles,
		Scopes:         scopes,
		Claims:         claimsCopy,
		Rejected:       roleResult.Rejected,
	}
}

// WithSessionID returns a copy of session stamped with the given transport
// correlation id; UserSession is otherwise immutable once created.
func WithSessionID(session *auth.UserSession, sessionID string) *auth.UserSession {
	cp := *session
	cp.SessionID = sessionID
	return &cp
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func extractScopes(claims jwt.MapClaims) []string {
	// Scopes may arrive as a space-delimited "scope" string (RFC 6749) or
	// as a "scp"/"scopes" JSON array, depending on IdP.
	if raw, ok := claims["scope"].(string); ok && raw != "" {
		return splitSpace(raw)
	}
	for _, key := range []string{"scp", "scopes"} {
		if arr, ok := claims[key].([]any); ok {
			out := make([]string, 0, len(arr))
			for _, v := range arr {
				if s, ok := v.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

func splitSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// Migrate applies incremental schema migrations to a rehydrated session
// (spec.md §4.3), keyed on its current SchemaVersion. It is a no-op for
// any session already at CurrentSchemaVersion.
func Migrate(s *auth.UserSession) *auth.UserSession {
	if s == nil {
		return nil
	}
	cp := *s
	if cp.SchemaVersion == 0 {
		// v0 -> v1: stamp the schema version that earlier callers omitted.
		cp.SchemaVersion = 1
	}
	return &cp
}
