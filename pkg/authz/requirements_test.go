package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/authz"
)

func TestRequireAuth_RejectsNilSession(t *testing.T) {
	t.Parallel()
	err := authz.RequireAuth(nil)
	require.Error(t, err)
	var authzErr *authz.AuthorizationError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, authz.ErrCodeUnauthenticated, authzErr.Code)
}

func TestRequireAuth_RejectsRejectedSession(t *testing.T) {
	t.Parallel()
	err := authz.RequireAuth(&auth.UserSession{UserID: "u1", Rejected: true})
	require.Error(t, err)
}

func TestRequireAuth_AllowsValidSession(t *testing.T) {
	t.Parallel()
	assert.NoError(t, authz.RequireAuth(&auth.UserSession{UserID: "u1"}))
}

func TestRequireAnyRole_AllowsMatchingPrimaryRole(t *testing.T) {
	t.Parallel()
	session := &auth.UserSession{UserID: "u1", Role: auth.RoleAdmin}
	assert.NoError(t, authz.RequireAnyRole(session, "admin", "owner"))
}

func TestRequireAnyRole_AllowsMatchingCustomRole(t *testing.T) {
	t.Parallel()
	session := &auth.UserSession{UserID: "u1", Role: auth.RoleUser, CustomRoles: []string{"billing-admin"}}
	assert.NoError(t, authz.RequireAnyRole(session, "billing-admin"))
}

func TestRequireAnyRole_RejectsNoMatch(t *testing.T) {
	t.Parallel()
	session := &auth.UserSession{UserID: "u1", Role: auth.RoleGuest}
	err := authz.RequireAnyRole(session, "admin")
	require.Error(t, err)
	var authzErr *authz.AuthorizationError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, authz.ErrCodeInsufficientPermissions, authzErr.Code)
}

func TestRequireAllScopes_AllowsWhenAllPresent(t *testing.T) {
	t.Parallel()
	session := &auth.UserSession{UserID: "u1", Scopes: []string{"read:orders", "write:orders"}}
	assert.NoError(t, authz.RequireAllScopes(session, "read:orders"))
}

func TestRequireAllScopes_RejectsMissingScope(t *testing.T) {
	t.Parallel()
	session := &auth.UserSession{UserID: "u1", Scopes: []string{"read:orders"}}
	err := authz.RequireAllScopes(session, "read:orders", "write:orders")
	require.Error(t, err)
	var authzErr *authz.AuthorizationError
	require.ErrorAs(t, err, &authzErr)
	assert.Equal(t, []string{"write:orders"}, authzErr.Detail)
}
