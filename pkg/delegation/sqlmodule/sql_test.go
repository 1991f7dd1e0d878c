package sqlmodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/delegation"
)

func newGuardedModule() *Module {
	return &Module{name: "sql", denied: upper(DefaultGuard)}
}

func TestGuard_RejectsDeniedKeyword(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	err := m.guard("DROP TABLE accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DROP")
}

func TestGuard_AllowsOrdinarySelect(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	assert.NoError(t, m.guard("SELECT id, name FROM accounts WHERE id = $1"))
}

func TestGuard_DoesNotFlagSubstringMatches(t *testing.T) {
	t.Parallel()

	// "dropdown_id" contains "drop" as a substring but is not the keyword
	// DROP as a standalone token, and must not be rejected.
	m := newGuardedModule()
	assert.NoError(t, m.guard("SELECT dropdown_id FROM ui_state"))
}

func TestDelegate_RejectsEmptyStatement(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	result := m.Delegate(&auth.UserSession{UserID: "u1"}, "query", map[string]any{}, delegation.Context{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "statement is required")
}

func TestDelegate_RejectsDeniedKeywordBeforeResolvingIdentity(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	result := m.Delegate(&auth.UserSession{UserID: "u1"}, "query",
		map[string]any{"statement": "TRUNCATE accounts"}, delegation.Context{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "TRUNCATE")
}

func TestDelegate_AlwaysPopulatesAValidAuditTrail(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	result := m.Delegate(&auth.UserSession{UserID: "u1"}, "query", map[string]any{}, delegation.Context{})
	require.NoError(t, result.AuditTrail.Validate(), "a delegate result must always carry a loggable audit entry")
	assert.Equal(t, "query", result.AuditTrail.Action)
	assert.Equal(t, "delegation:sql", result.AuditTrail.Source)
	assert.False(t, result.AuditTrail.Success)
}

func TestResolveIdentity_PrefersSessionLegacyUsername(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	session := &auth.UserSession{UserID: "u1", LegacyUsername: "legacy_app_user"}

	legacyName, err := m.resolveIdentity(delegation.Context{}, session)
	require.NoError(t, err)
	assert.Equal(t, "legacy_app_user", legacyName)
}

func TestResolveIdentity_ErrorsWithoutSessionIdentityOrTokenExchange(t *testing.T) {
	t.Parallel()

	m := newGuardedModule()
	_, err := m.resolveIdentity(delegation.Context{}, &auth.UserSession{UserID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no legacy identity available")
}

func TestInitialize_RejectsMissingDSN(t *testing.T) {
	t.Parallel()

	m := New("sql")
	err := m.Initialize(map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestIdentifierPattern_RejectsUnsafeIdentity(t *testing.T) {
	t.Parallel()

	assert.False(t, identifierPattern.MatchString("robert'; drop table students;--"))
	assert.True(t, identifierPattern.MatchString("legacy_app_user"))
}
