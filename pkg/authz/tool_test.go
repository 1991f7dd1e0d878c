package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/authz"
)

func TestCanAccess_DefaultsToVisibleWithNoPredicate(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{Name: "weather"}
	assert.True(t, tool.CanAccess(&auth.UserSession{UserID: "u1"}))
}

func TestCanAccess_PanickingPredicateResolvesToNotVisible(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{
		Name:      "weather",
		VisibleTo: func(*auth.UserSession) bool { panic("boom") },
	}
	var visible bool
	require.NotPanics(t, func() {
		visible = tool.CanAccess(&auth.UserSession{UserID: "u1"})
	})
	assert.False(t, visible)
}

func TestDispatch_HappyPathReturnsSuccessEnvelope(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{
		Name: "weather",
		Handle: func(_ context.Context, session *auth.UserSession, params map[string]any) (authz.Envelope, error) {
			return authz.Success(map[string]any{"temp": 72}), nil
		},
	}
	envelope := authz.Dispatch(context.Background(), tool, &auth.UserSession{UserID: "u1"}, nil, audit.New(10, nil))
	assert.Equal(t, "success", envelope.Status)
}

func TestDispatch_AuthorizationErrorPreservesCode(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{
		Name: "weather",
		Handle: func(context.Context, *auth.UserSession, map[string]any) (authz.Envelope, error) {
			return authz.Envelope{}, authz.NewAuthorizationError(authz.ErrCodeInsufficientPermissions, "nope", nil)
		},
	}
	envelope := authz.Dispatch(context.Background(), tool, &auth.UserSession{UserID: "u1"}, nil, audit.New(10, nil))
	assert.Equal(t, "failure", envelope.Status)
	assert.Equal(t, authz.ErrCodeInsufficientPermissions, envelope.Code)
}

func TestDispatch_UnexpectedErrorBecomesGenericInternalError(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{
		Name: "weather",
		Handle: func(context.Context, *auth.UserSession, map[string]any) (authz.Envelope, error) {
			return authz.Envelope{}, errors.New("db connection string leaked here: postgres://...")
		},
	}
	envelope := authz.Dispatch(context.Background(), tool, &auth.UserSession{UserID: "u1"}, nil, audit.New(10, nil))
	assert.Equal(t, "failure", envelope.Status)
	assert.Equal(t, authz.ErrCodeInternalError, envelope.Code)
	assert.NotContains(t, envelope.Message, "postgres://")
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	tool := authz.ToolRegistration{
		Name: "weather",
		Handle: func(context.Context, *auth.UserSession, map[string]any) (authz.Envelope, error) {
			panic("unexpected nil pointer")
		},
	}
	var envelope authz.Envelope
	require.NotPanics(t, func() {
		envelope = authz.Dispatch(context.Background(), tool, &auth.UserSession{UserID: "u1"}, nil, audit.New(10, nil))
	})
	assert.Equal(t, authz.ErrCodeInternalError, envelope.Code)
}
