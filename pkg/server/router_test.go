package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/server"
)

type stubAuthenticator struct {
	session *auth.UserSession
	err     error
}

func (s *stubAuthenticator) Authenticate(context.Context, string) (*auth.UserSession, error) {
	return s.session, s.err
}

func newTestConfig(authr *stubAuthenticator, rpc http.Handler) server.Config {
	return server.Config{
		Authenticator: authr,
		RPCHandler:    rpc,
		Issuers:       []string{"https://idp.example.com"},
		ResourceURL:   "https://api.example.com",
		Scopes:        []string{"read"},
		Realm:         "mcp",
	}
}

func TestNewRouter_HealthcheckIsUnauthenticated(t *testing.T) {
	t.Parallel()

	rpc := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("rpc handler should not run") })
	r, err := server.NewRouter(newTestConfig(&stubAuthenticator{}, rpc))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNewRouter_DiscoveryDocumentIsUnauthenticated(t *testing.T) {
	t.Parallel()

	rpc := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	r, err := server.NewRouter(newTestConfig(&stubAuthenticator{}, rpc))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://idp.example.com")
}

func TestNewRouter_RPCMountRejectsRequestsWithoutABearerToken(t *testing.T) {
	t.Parallel()

	rpc := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { t.Fatal("rpc handler should not run") })
	r, err := server.NewRouter(newTestConfig(&stubAuthenticator{err: errors.New("bad token")}, rpc))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestNewRouter_RPCMountForwardsAuthenticatedRequestsToTheRPCHandler(t *testing.T) {
	t.Parallel()

	var forwardedSession *auth.UserSession
	rpc := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwardedSession, _ = auth.SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	session := &auth.UserSession{UserID: "u1"}
	r, err := server.NewRouter(newTestConfig(&stubAuthenticator{session: session}, rpc))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, forwardedSession)
	assert.Equal(t, "u1", forwardedSession.UserID)
}

func TestNewRouter_RequiresAuthenticatorAndRPCHandler(t *testing.T) {
	t.Parallel()

	_, err := server.NewRouter(server.Config{RPCHandler: http.NotFoundHandler()})
	assert.Error(t, err)

	_, err = server.NewRouter(server.Config{Authenticator: &stubAuthenticator{}})
	assert.Error(t, err)
}
