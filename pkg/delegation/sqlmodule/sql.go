// Package sqlmodule is the reference SQL delegation adapter of spec.md
// §4.9: it mints a downstream token via TokenExchangeService, assumes
// the resulting legacy_name identity inside a pooled connection, runs a
// guarded statement, and reverts identity on every exit path.
package sqlmodule

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/delegation"
	"github.com/mcpauth/obo-core/pkg/logger"
	"github.com/mcpauth/obo-core/pkg/tokenexchange"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultGuard is the keyword denylist applied to every statement this
// module executes, in addition to the identifier shape check. It is not
// a substitute for parameterised statements — it is a second line of
// defence against operator misconfiguration.
var DefaultGuard = []string{
	"DROP", "TRUNCATE", "GRANT", "REVOKE", "ALTER", "CREATE", "ATTACH",
}

// Config configures Module.Initialize.
type Config struct {
	DSN            string
	Audience       string // passed to TokenExchangeService as the downstream audience
	DeniedKeywords []string
}

// Module is the SQL delegation adapter.
type Module struct {
	name   string
	pool   *pgxpool.Pool
	cfg    Config
	denied []string
}

// New constructs an uninitialized Module; call Initialize before use.
func New(name string) *Module {
	return &Module{name: name}
}

func (m *Module) Name() string { return m.name }
func (m *Module) Type() string { return "sql" }

// Initialize opens the connection pool. config must decode into Config
// (the registry passes the raw map straight through from its own
// configuration source).
func (m *Module) Initialize(config map[string]any) error {
	dsn, _ := config["dsn"].(string)
	if dsn == "" {
		return fmt.Errorf("sqlmodule: config.dsn is required")
	}
	audience, _ := config["audience"].(string)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return fmt.Errorf("sqlmodule: failed to open connection pool: %w", err)
	}

	denied := DefaultGuard
	if raw, ok := config["deniedKeywords"].([]string); ok && len(raw) > 0 {
		denied = raw
	}

	m.pool = pool
	m.cfg = Config{DSN: dsn, Audience: audience, DeniedKeywords: denied}
	m.denied = upper(denied)
	return nil
}

func (m *Module) HealthCheck() bool {
	if m.pool == nil {
		return false
	}
	return m.pool.Ping(context.Background()) == nil
}

func (m *Module) Destroy() error {
	if m.pool != nil {
		m.pool.Close()
	}
	return nil
}

// Delegate executes params["statement"] with params["args"] bound as
// query parameters, inside a session that assumes session.LegacyUsername
// (or, if empty, the identity minted by a fresh token exchange).
func (m *Module) Delegate(session *auth.UserSession, action string, params map[string]any, dctx delegation.Context) delegation.Result {
	statement, _ := params["statement"].(string)
	if statement == "" {
		return m.result(false, action, session, nil, "sql statement is required")
	}
	if err := m.guard(statement); err != nil {
		return m.result(false, action, session, nil, err.Error())
	}

	legacyName, err := m.resolveIdentity(dctx, session)
	if err != nil {
		return m.result(false, action, session, nil, fmt.Sprintf("sqlmodule: %v", err))
	}
	if !identifierPattern.MatchString(legacyName) {
		return m.result(false, action, session, nil, "sqlmodule: legacy identity is not a valid SQL identifier")
	}

	ctx := dctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return m.result(false, action, session, nil, "sqlmodule: failed to acquire connection")
	}
	defer conn.Release()

	rows, err := m.executeAsIdentity(ctx, conn.Conn(), legacyName, statement, params["args"])
	if err != nil {
		logger.Warnf("sqlmodule: query failed for action %q: %v", action, err)
		return m.result(false, action, session, nil, fmt.Sprintf("sqlmodule: query failed: %v", err))
	}

	return m.result(true, action, session, rows, "")
}

// result builds a delegation.Result carrying a populated AuditTrail, so
// every return path out of Delegate — success, guard rejection, identity
// resolution failure, or query failure — lands exactly one audit entry
// once the registry logs it.
func (m *Module) result(success bool, action string, session *auth.UserSession, data any, errMsg string) delegation.Result {
	userID := ""
	if session != nil {
		userID = session.UserID
	}
	entry := audit.New(sourceName(m.name), userID, action, success)
	if errMsg != "" {
		entry = entry.WithError(errors.New(errMsg))
	}
	return delegation.Result{Success: success, Data: data, Error: errMsg, AuditTrail: entry}
}

func sourceName(moduleName string) string {
	return "delegation:" + moduleName
}

// executeAsIdentity runs statement with the session's identity assumed
// for the duration of the transaction, reverting on every exit path
// (success, query error, or panic during row scanning).
func (m *Module) executeAsIdentity(ctx context.Context, conn *pgx.Conn, legacyName, statement string, args any) (rows []map[string]any, err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	if _, setErr := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ROLE %s", legacyName)); setErr != nil {
		return nil, fmt.Errorf("assume identity %s: %w", legacyName, setErr)
	}
	defer func() {
		_, _ = tx.Exec(ctx, "RESET ROLE")
	}()

	argSlice, _ := args.([]any)
	result, queryErr := tx.Query(ctx, statement, argSlice...)
	if queryErr != nil {
		return nil, queryErr
	}
	defer result.Close()

	rows, err = pgx.CollectRows(result, pgx.RowToMap)
	return rows, err
}

// resolveIdentity returns the legacy identity to assume: an explicit
// override in the caller's session claims, or a freshly exchanged
// downstream token's legacy_name claim.
func (m *Module) resolveIdentity(dctx delegation.Context, session *auth.UserSession) (string, error) {
	if session != nil && session.LegacyUsername != "" {
		return session.LegacyUsername, nil
	}
	if dctx.TokenExchange == nil {
		return "", fmt.Errorf("no legacy identity available and no token exchange service configured")
	}

	ctx := dctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := dctx.TokenExchange.Exchange(ctx, tokenexchange.Request{
		SubjectToken: session.AccessToken(),
		Audience:     m.cfg.Audience,
		SessionID:    dctx.SessionID,
		JWTSubject:   session.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	legacyName, _ := result.Claims["legacy_name"].(string)
	if legacyName == "" {
		return "", fmt.Errorf("exchanged token did not include legacy_name claim")
	}
	return legacyName, nil
}

func (m *Module) guard(statement string) error {
	upperStatement := strings.ToUpper(statement)
	for _, word := range m.denied {
		if containsWord(upperStatement, word) {
			return fmt.Errorf("sqlmodule: statement contains disallowed keyword %q", word)
		}
	}
	return nil
}

func containsWord(haystack, word string) bool {
	for _, token := range strings.Fields(haystack) {
		if strings.Trim(token, "();,") == word {
			return true
		}
	}
	return false
}

func upper(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToUpper(w)
	}
	return out
}
