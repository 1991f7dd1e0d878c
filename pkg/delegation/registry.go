package delegation

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/logger"
	"github.com/mcpauth/obo-core/pkg/tokenexchange"
)

// Registry is the DelegationRegistry of spec.md §4.9.
type Registry struct {
	mu            sync.RWMutex
	modules       map[string]Module
	tokenExchange *tokenexchange.Service
	auditor       *audit.Service
}

// New builds an empty Registry. tokenExchange and auditor may be nil;
// auditor follows pkg/audit's null-object contract.
func New(tokenExchange *tokenexchange.Service, auditor *audit.Service) *Registry {
	return &Registry{
		modules:       make(map[string]Module),
		tokenExchange: tokenExchange,
		auditor:       auditor,
	}
}

// Register adds module, keyed by its own declared Name. Registering a
// second module under the same name replaces the first.
func (r *Registry) Register(module Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[module.Name()] = module
}

// Unregister removes and destroys the named module, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	module, ok := r.modules[name]
	if ok {
		delete(r.modules, name)
	}
	r.mu.Unlock()

	if ok {
		if err := module.Destroy(); err != nil {
			logger.Warnf("delegation: error destroying module %q: %v", name, err)
		}
	}
}

// Get returns the module registered under name, if any.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Has reports whether a module is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the names of all registered modules.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

// Delegate routes a call to moduleName, stamping the audit source and
// isolating the module from crashing the caller. Per spec.md §4.9: an
// absent module short-circuits to MODULE_NOT_FOUND without invoking
// anything; a module panic is recovered and converted to
// DELEGATION_ERROR; the registry emits exactly one audit entry per call.
func (r *Registry) Delegate(
	ctx context.Context,
	moduleName string,
	session *auth.UserSession,
	action string,
	params map[string]any,
	sessionID string,
) (result Result) {
	module, ok := r.Get(moduleName)
	if !ok {
		result = failureResult("delegation:registry", ErrCodeModuleNotFound,
			fmt.Sprintf("no delegation module registered under %q", moduleName))
		r.auditor.Log(result.AuditTrail)
		return result
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("delegation: module %q panicked during delegate: %v", moduleName, rec)
			result = failureResult(sourceFor(moduleName), ErrCodeDelegationError,
				fmt.Sprintf("module %q failed unexpectedly", moduleName))
			r.auditor.Log(result.AuditTrail)
		}
	}()

	dctx := Context{SessionID: sessionID, TokenExchange: r.tokenExchange, Ctx: ctx}
	result = module.Delegate(session, action, params, dctx)

	if result.AuditTrail.Source == "" {
		result.AuditTrail.Source = sourceFor(moduleName)
	}
	r.auditor.Log(result.AuditTrail)
	return result
}

func sourceFor(moduleName string) string {
	return "delegation:" + moduleName
}
