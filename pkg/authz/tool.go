package authz

import (
	"context"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/logger"
)

// Handler is a tool's enforcement-tier implementation. It should call
// RequireAuth/RequireAnyRole/RequireAllScopes (and any Cedar check) as
// its first action and propagate their errors unchanged; Dispatch
// converts a returned AuthorizationError into the matching failure
// envelope and anything else into a sanitised INTERNAL_ERROR envelope.
type Handler func(ctx context.Context, session *auth.UserSession, params map[string]any) (Envelope, error)

// VisibilityPredicate is the soft tier of spec.md §4.10: it must never
// panic and must resolve any doubt to false, since it only affects what
// gets advertised, not what gets enforced.
type VisibilityPredicate func(session *auth.UserSession) bool

// ToolRegistration pairs a tool's soft visibility predicate with its
// hard-enforcing handler. The enforcement tier never trusts the
// visibility tier — a tool filtered out of a listing can still only be
// invoked successfully if its own Handler's checks pass.
type ToolRegistration struct {
	Name      string
	VisibleTo VisibilityPredicate
	Handle    Handler
}

// CanAccess evaluates t's visibility predicate defensively: a nil
// predicate defaults to visible, and a panicking predicate resolves to
// not-visible rather than propagating.
func (t ToolRegistration) CanAccess(session *auth.UserSession) (visible bool) {
	if t.VisibleTo == nil {
		return true
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("authz: visibility predicate for tool %q panicked: %v", t.Name, rec)
			visible = false
		}
	}()
	return t.VisibleTo(session)
}

// Dispatch invokes t's handler under the error-handling discipline of
// spec.md §4.10: an *AuthorizationError becomes a failure envelope with
// its original code; a panic or any other error is logged in full to
// auditor and returned to the caller as a generic INTERNAL_ERROR
// envelope, never leaking internal detail.
func Dispatch(ctx context.Context, t ToolRegistration, session *auth.UserSession, params map[string]any, auditor *audit.Service) (envelope Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("authz: tool %q panicked: %v", t.Name, rec)
			auditor.Log(audit.New("authz:"+t.Name, subjectOf(session), "invoke", false).
				WithError(panicError{rec}))
			envelope = Failure(ErrCodeInternalError, "an internal error occurred")
		}
	}()

	result, err := t.Handle(ctx, session, params)
	if err == nil {
		auditor.Log(audit.New("authz:"+t.Name, subjectOf(session), "invoke", result.Status == "success"))
		return result
	}

	if authzErr, ok := err.(*AuthorizationError); ok {
		auditor.Log(audit.New("authz:"+t.Name, subjectOf(session), "invoke", false).WithError(authzErr))
		return authzErr.Envelope()
	}

	logger.Errorf("authz: tool %q returned unexpected error: %v", t.Name, err)
	auditor.Log(audit.New("authz:"+t.Name, subjectOf(session), "invoke", false).WithError(err))
	return Failure(ErrCodeInternalError, "an internal error occurred")
}

func subjectOf(session *auth.UserSession) string {
	if session == nil {
		return ""
	}
	return session.UserID
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return "panic: " + toString(p.value)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}
