// Package delegation implements the DelegationRegistry and Module
// contract of spec.md §4.9: pluggable downstream-identity adapters
// routed by name, with registry-enforced audit-source stamping and
// failure isolation so a single buggy module cannot crash the request
// pipeline.
package delegation

import (
	"context"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/tokenexchange"
)

// Context carries per-call routing information a Module needs to
// perform delegation, including a handle on the token-exchange service
// so modules can mint downstream tokens themselves (OBO).
type Context struct {
	SessionID     string
	TokenExchange *tokenexchange.Service
	Ctx           context.Context
}

// Result is DelegationResult<T>: the outcome of a single delegate call.
type Result struct {
	Success    bool
	Data       any
	Error      string
	AuditTrail audit.Entry
}

// Module is the contract every delegation adapter implements (spec.md
// §4.9). Initialize/Destroy bracket the module's lifecycle; Delegate is
// called once per routed request; HealthCheck backs a liveness probe.
type Module interface {
	Name() string
	Type() string
	Initialize(config map[string]any) error
	Delegate(session *auth.UserSession, action string, params map[string]any, dctx Context) Result
	HealthCheck() bool
	Destroy() error
}

// ErrorCode values used in Result.Error, per spec.md §4.9's routing and
// failure-isolation semantics.
const (
	ErrCodeModuleNotFound  = "MODULE_NOT_FOUND"
	ErrCodeDelegationError = "DELEGATION_ERROR"
)

func failureResult(source, code, message string) Result {
	return Result{
		Success: false,
		Error:   code,
		AuditTrail: audit.New(source, "", "delegate", false).
			WithError(errString(message)),
	}
}

type errString string

func (e errString) Error() string { return string(e) }
