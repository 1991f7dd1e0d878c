package session_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/auth/rolemap"
	"github.com/mcpauth/obo-core/pkg/auth/session"
)

func TestCreateSession_HappyPath(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager()
	claims := jwt.MapClaims{
		"sub":   "u1",
		"name":  "Ada Lovelace",
		"scope": "read write",
	}
	roleResult := rolemap.Result{PrimaryRole: auth.RoleAdmin, CustomRoles: []string{"beta"}}

	s := mgr.CreateSession(claims, roleResult, "raw.jwt.token")

	require.NotNil(t, s)
	assert.Equal(t, 1, s.SchemaVersion)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "Ada Lovelace", s.Username)
	assert.Equal(t, auth.RoleAdmin, s.Role)
	assert.ElementsMatch(t, []string{"read", "write"}, s.Scopes)
	assert.Equal(t, "raw.jwt.token", s.AccessToken())
	assert.False(t, s.Rejected)
}

func TestCreateSession_UnassignedWithScopesPanics(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager()
	claims := jwt.MapClaims{"sub": "u1", "scope": "read"}
	roleResult := rolemap.Result{PrimaryRole: auth.RoleUnassigned}

	assert.Panics(t, func() {
		mgr.CreateSession(claims, roleResult, "raw.jwt.token")
	})
}

func TestCreateSession_UnassignedWithoutScopesIsFine(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager()
	claims := jwt.MapClaims{"sub": "u1"}
	roleResult := rolemap.Result{PrimaryRole: auth.RoleUnassigned, Rejected: true}

	s := mgr.CreateSession(claims, roleResult, "raw.jwt.token")
	assert.Equal(t, auth.RoleUnassigned, s.Role)
	assert.Empty(t, s.Scopes)
	assert.True(t, s.Rejected)
}

func TestCreateSession_RejectedMirrorsRoleResult(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager()
	claims := jwt.MapClaims{"sub": "u1"}
	roleResult := rolemap.Result{PrimaryRole: auth.RoleUnassigned, Rejected: true}

	s := mgr.CreateSession(claims, roleResult, "tok")
	assert.True(t, s.Rejected)
}

func TestMigrate_StampsSchemaVersion(t *testing.T) {
	t.Parallel()

	old := &auth.UserSession{UserID: "u1"}
	migrated := session.Migrate(old)
	assert.Equal(t, 1, migrated.SchemaVersion)
	// Original must not be mutated.
	assert.Equal(t, 0, old.SchemaVersion)
}

func TestWithSessionID(t *testing.T) {
	t.Parallel()

	s := &auth.UserSession{UserID: "u1"}
	withID := session.WithSessionID(s, "sess-123")
	assert.Equal(t, "sess-123", withID.SessionID)
	assert.Empty(t, s.SessionID, "original must remain unmutated")
}
