package httpmodule_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/cache"
	"github.com/mcpauth/obo-core/pkg/delegation"
	"github.com/mcpauth/obo-core/pkg/delegation/httpmodule"
	"github.com/mcpauth/obo-core/pkg/secrets"
	"github.com/mcpauth/obo-core/pkg/tokenexchange"
)

type mapSecretProvider struct{ values map[string]string }

func (p *mapSecretProvider) Name() string { return "map" }
func (p *mapSecretProvider) Get(_ context.Context, name string) (string, error) {
	v, ok := p.values[name]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

func fakeJWT(exp time.Time) string {
	header := map[string]any{"alg": "RS256", "typ": "JWT"}
	payload := map[string]any{"sub": "downstream-user", "exp": exp.Unix()}
	h, _ := json.Marshal(header)
	p, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(p) + ".sig"
}

func newTokenExchangeService(t *testing.T, idpServer *httptest.Server) *tokenexchange.Service {
	t.Helper()
	resolver := secrets.NewResolver(&mapSecretProvider{values: map[string]string{"CLIENT_SECRET": "shh"}})
	c := cache.New()
	t.Cleanup(c.Close)

	cfg := tokenexchange.Config{
		TokenEndpoint:   idpServer.URL,
		ClientID:        "client1",
		ClientSecretRef: map[string]any{"$secret": "CLIENT_SECRET"},
		Audience:        "downstream-api",
		IsDevelopment:   true,
	}
	return tokenexchange.New(cfg, resolver, c, nil)
}

func TestDelegate_HappyPathForwardsDelegatedToken(t *testing.T) {
	t.Parallel()

	var receivedAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fakeJWT(time.Now().Add(time.Hour)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer idp.Close()

	m := httpmodule.New("orders-api")
	require.NoError(t, m.Initialize(map[string]any{
		"upstreamUrl": upstream.URL,
		"audience":    "downstream-api",
	}))

	dctx := delegation.Context{TokenExchange: newTokenExchangeService(t, idp), Ctx: context.Background()}
	session := &auth.UserSession{
		UserID: "u1",
		Claims: map[string]any{"access_token": fakeJWT(time.Now().Add(time.Hour))},
	}

	result := m.Delegate(session, "call", map[string]any{"method": "GET", "path": "/orders"}, dctx)
	require.True(t, result.Success)
	assert.Contains(t, receivedAuth, "Bearer ")

	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, data["statusCode"])
}

func TestDelegate_RejectsWithoutTokenExchangeService(t *testing.T) {
	t.Parallel()

	m := httpmodule.New("orders-api")
	require.NoError(t, m.Initialize(map[string]any{"upstreamUrl": "http://example.invalid"}))

	result := m.Delegate(&auth.UserSession{UserID: "u1"}, "call", map[string]any{}, delegation.Context{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no token exchange service configured")

	require.NoError(t, result.AuditTrail.Validate(), "a delegate result must always carry a loggable audit entry")
	assert.Equal(t, "call", result.AuditTrail.Action)
	assert.Equal(t, "delegation:orders-api", result.AuditTrail.Source)
}

func TestDelegate_SurfacesUpstreamErrorStatus(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer upstream.Close()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fakeJWT(time.Now().Add(time.Hour)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer idp.Close()

	m := httpmodule.New("orders-api")
	require.NoError(t, m.Initialize(map[string]any{
		"upstreamUrl": upstream.URL,
		"audience":    "downstream-api",
	}))

	dctx := delegation.Context{TokenExchange: newTokenExchangeService(t, idp), Ctx: context.Background()}
	session := &auth.UserSession{
		UserID: "u1",
		Claims: map[string]any{"access_token": fakeJWT(time.Now().Add(time.Hour))},
	}

	result := m.Delegate(session, "call", map[string]any{}, dctx)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "403")
}

func TestInitialize_RejectsCustomStrategyWithoutHeaderName(t *testing.T) {
	t.Parallel()

	m := httpmodule.New("orders-api")
	err := m.Initialize(map[string]any{
		"upstreamUrl":    "http://example.invalid",
		"headerStrategy": "custom",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customHeaderName")
}
