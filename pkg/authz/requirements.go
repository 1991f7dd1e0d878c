package authz

import (
	"fmt"

	"github.com/mcpauth/obo-core/pkg/auth"
)

// RequireAuth raises an AuthorizationError unless session is a
// successfully authenticated, non-rejected subject.
func RequireAuth(session *auth.UserSession) error {
	if session == nil {
		return NewAuthorizationError(ErrCodeUnauthenticated, "authentication required", nil)
	}
	if session.Rejected {
		return NewAuthorizationError(ErrCodeUnauthenticated, "session was rejected during role mapping", nil)
	}
	return nil
}

// RequireAnyRole raises an AuthorizationError unless session's primary
// role or any of its custom roles matches one of allowed.
func RequireAnyRole(session *auth.UserSession, allowed ...string) error {
	if err := RequireAuth(session); err != nil {
		return err
	}
	for _, role := range allowed {
		if string(session.Role) == role {
			return nil
		}
		for _, custom := range session.CustomRoles {
			if custom == role {
				return nil
			}
		}
	}
	return NewAuthorizationError(ErrCodeInsufficientPermissions,
		fmt.Sprintf("requires one of roles %v", allowed), allowed)
}

// RequireAllScopes raises an AuthorizationError unless session carries
// every scope in required.
func RequireAllScopes(session *auth.UserSession, required ...string) error {
	if err := RequireAuth(session); err != nil {
		return err
	}
	have := make(map[string]bool, len(session.Scopes))
	for _, s := range session.Scopes {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return NewAuthorizationError(ErrCodeInsufficientPermissions,
			fmt.Sprintf("missing required scopes %v", missing), missing)
	}
	return nil
}
