// Package httpmodule is the HTTP delegation adapter of spec.md §4.9: it
// mints a downstream token via TokenExchangeService and forwards the
// caller's request to a configured upstream as a bearer-authenticated
// HTTP call, capping the response body it reads back.
package httpmodule

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/delegation"
	"github.com/mcpauth/obo-core/pkg/tokenexchange"
)

// maxResponseBodySize bounds how much of an upstream response this
// module will buffer, mirroring the same defensive cap the
// token-exchange client applies to IdP responses.
const maxResponseBodySize = 1 << 20 // 1 MiB

// HeaderStrategy selects how the delegated token is attached to the
// outbound request.
type HeaderStrategy string

const (
	// HeaderStrategyAuthorization sets a standard Bearer Authorization header.
	HeaderStrategyAuthorization HeaderStrategy = "authorization"
	// HeaderStrategyCustom sets the token on a caller-named header instead.
	HeaderStrategyCustom HeaderStrategy = "custom"
)

// Config configures Module.Initialize.
type Config struct {
	UpstreamURL      string
	Audience         string
	HeaderStrategy   HeaderStrategy
	CustomHeaderName string
	Timeout          time.Duration
}

// Module is the HTTP delegation adapter.
type Module struct {
	name   string
	cfg    Config
	client *http.Client
}

// New constructs an uninitialized Module; call Initialize before use.
func New(name string) *Module {
	return &Module{name: name}
}

func (m *Module) Name() string { return m.name }
func (m *Module) Type() string { return "http" }

// Initialize validates and stores the module's outbound configuration.
func (m *Module) Initialize(config map[string]any) error {
	upstreamURL, _ := config["upstreamUrl"].(string)
	if upstreamURL == "" {
		return fmt.Errorf("httpmodule: config.upstreamUrl is required")
	}
	audience, _ := config["audience"].(string)

	strategy := HeaderStrategyAuthorization
	if raw, ok := config["headerStrategy"].(string); ok && raw != "" {
		strategy = HeaderStrategy(raw)
	}
	customHeader, _ := config["customHeaderName"].(string)
	if strategy == HeaderStrategyCustom && customHeader == "" {
		return fmt.Errorf("httpmodule: customHeaderName is required when headerStrategy is %q", HeaderStrategyCustom)
	}
	if strategy != HeaderStrategyAuthorization && strategy != HeaderStrategyCustom {
		return fmt.Errorf("httpmodule: invalid headerStrategy %q", strategy)
	}

	timeout := 10 * time.Second
	if raw, ok := config["timeoutSeconds"].(float64); ok && raw > 0 {
		timeout = time.Duration(raw) * time.Second
	}

	m.cfg = Config{
		UpstreamURL:      upstreamURL,
		Audience:         audience,
		HeaderStrategy:   strategy,
		CustomHeaderName: customHeader,
		Timeout:          timeout,
	}
	m.client = &http.Client{Timeout: timeout}
	return nil
}

func (m *Module) HealthCheck() bool {
	return m.client != nil && m.cfg.UpstreamURL != ""
}

func (m *Module) Destroy() error {
	if m.client != nil {
		m.client.CloseIdleConnections()
	}
	return nil
}

// Delegate exchanges the caller's token for a downstream token scoped
// to this module's audience, then issues params["method"] (default GET)
// against UpstreamURL + params["path"] with that token attached per the
// configured header strategy.
func (m *Module) Delegate(session *auth.UserSession, action string, params map[string]any, dctx delegation.Context) delegation.Result {
	if dctx.TokenExchange == nil {
		return m.result(false, action, session, nil, "httpmodule: no token exchange service configured")
	}
	if session == nil {
		return m.result(false, action, session, nil, "httpmodule: no authenticated session")
	}

	ctx := dctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	exchanged, err := dctx.TokenExchange.Exchange(ctx, tokenexchange.Request{
		SubjectToken: session.AccessToken(),
		Audience:     m.cfg.Audience,
		SessionID:    dctx.SessionID,
		JWTSubject:   session.UserID,
	})
	if err != nil {
		return m.result(false, action, session, nil, fmt.Sprintf("httpmodule: token exchange failed: %v", err))
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	path, _ := params["path"].(string)
	body, _ := params["body"].(string)

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.UpstreamURL+path, bytes.NewBufferString(body))
	if err != nil {
		return m.result(false, action, session, nil, fmt.Sprintf("httpmodule: failed to build request: %v", err))
	}
	m.attachToken(req, exchanged.AccessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return m.result(false, action, session, nil, fmt.Sprintf("httpmodule: upstream call failed: %v", err))
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return m.result(false, action, session, nil, fmt.Sprintf("httpmodule: failed to read upstream response: %v", err))
	}

	if resp.StatusCode >= 400 {
		return m.result(false, action, session, string(responseBody),
			fmt.Sprintf("httpmodule: upstream returned status %d", resp.StatusCode))
	}

	return m.result(true, action, session, map[string]any{
		"statusCode": resp.StatusCode,
		"body":       string(responseBody),
	}, "")
}

// result builds a delegation.Result carrying a populated AuditTrail, so
// every return path out of Delegate lands exactly one audit entry once
// the registry logs it.
func (m *Module) result(success bool, action string, session *auth.UserSession, data any, errMsg string) delegation.Result {
	userID := ""
	if session != nil {
		userID = session.UserID
	}
	entry := audit.New("delegation:"+m.name, userID, action, success)
	if errMsg != "" {
		entry = entry.WithError(errors.New(errMsg))
	}
	return delegation.Result{Success: success, Data: data, Error: errMsg, AuditTrail: entry}
}

func (m *Module) attachToken(req *http.Request, token string) {
	if m.cfg.HeaderStrategy == HeaderStrategyCustom {
		req.Header.Set(m.cfg.CustomHeaderName, token)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
