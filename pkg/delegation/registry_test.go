package delegation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/delegation"
)

type stubModule struct {
	name        string
	result      delegation.Result
	shouldPanic bool
}

func (m *stubModule) Name() string                  { return m.name }
func (*stubModule) Type() string                    { return "stub" }
func (*stubModule) Initialize(map[string]any) error { return nil }
func (*stubModule) HealthCheck() bool               { return true }
func (*stubModule) Destroy() error                  { return nil }

func (m *stubModule) Delegate(*auth.UserSession, string, map[string]any, delegation.Context) delegation.Result {
	if m.shouldPanic {
		panic("boom")
	}
	return m.result
}

func TestRegistry_DelegateRoutesToRegisteredModule(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, audit.New(10, nil))
	reg.Register(&stubModule{name: "sql", result: delegation.Result{Success: true, Data: "ok"}})

	result := reg.Delegate(context.Background(), "sql", &auth.UserSession{UserID: "u1"}, "query", nil, "sess1")
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Data)
}

func TestRegistry_DelegateUnknownModuleReturnsModuleNotFound(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, audit.New(10, nil))
	result := reg.Delegate(context.Background(), "missing", &auth.UserSession{}, "action", nil, "")

	assert.False(t, result.Success)
	assert.Equal(t, delegation.ErrCodeModuleNotFound, result.Error)
}

func TestRegistry_DelegateStampsAuditSourceWhenModuleOmitsIt(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, audit.New(10, nil))
	reg.Register(&stubModule{name: "sql", result: delegation.Result{Success: true}})

	result := reg.Delegate(context.Background(), "sql", &auth.UserSession{}, "query", nil, "")
	assert.Equal(t, "delegation:sql", result.AuditTrail.Source)
}

func TestRegistry_DelegateAuditEntryIsActuallyPersisted(t *testing.T) {
	t.Parallel()

	auditor := audit.New(10, nil)
	reg := delegation.New(nil, auditor)
	reg.Register(&stubModule{
		name: "sql",
		result: delegation.Result{
			Success:    true,
			AuditTrail: audit.New("delegation:sql", "u1", "query", true),
		},
	})

	result := reg.Delegate(context.Background(), "sql", &auth.UserSession{UserID: "u1"}, "query", nil, "")
	require.True(t, result.Success)

	entries := auditor.Query(audit.Query{UserID: "u1", Action: "query"})
	require.Len(t, entries, 1, "the registry must actually log the module's audit entry, not just return it")
	assert.Equal(t, "delegation:sql", entries[0].Source)
}

func TestRegistry_DelegateRecoversModulePanic(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, audit.New(10, nil))
	reg.Register(&stubModule{name: "flaky", shouldPanic: true})

	var result delegation.Result
	require.NotPanics(t, func() {
		result = reg.Delegate(context.Background(), "flaky", &auth.UserSession{}, "action", nil, "")
	})
	assert.False(t, result.Success)
	assert.Equal(t, delegation.ErrCodeDelegationError, result.Error)
}

func TestRegistry_HasAndList(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, nil)
	assert.False(t, reg.Has("sql"))

	reg.Register(&stubModule{name: "sql"})
	assert.True(t, reg.Has("sql"))
	assert.Equal(t, []string{"sql"}, reg.List())
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	reg := delegation.New(nil, nil)
	reg.Register(&stubModule{name: "sql"})
	reg.Unregister("sql")
	assert.False(t, reg.Has("sql"))
}
