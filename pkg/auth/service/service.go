// Package service implements AuthenticationService, the single entry
// point that turns a bearer token into a UserSession, per spec.md §4.4:
// validate via pkg/auth/token, map roles via pkg/auth/rolemap, construct
// the session via pkg/auth/session, and audit every outcome.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/auth/rolemap"
	"github.com/mcpauth/obo-core/pkg/auth/session"
	"github.com/mcpauth/obo-core/pkg/auth/token"
	"github.com/mcpauth/obo-core/pkg/logger"
)

// Validator is the subset of *token.Validator that AuthenticationService
// depends on; tests substitute a stub.
type Validator interface {
	Validate(ctx context.Context, tokenString string) (*token.Result, error)
}

// IDPResolver looks up the TrustedIDP configuration that issued a
// validated token, by issuer, so roles can be mapped against it.
type IDPResolver interface {
	ByIssuer(issuer string) (*auth.TrustedIDP, bool)
}

// Service is the AuthenticationService of spec.md §4.4.
type Service struct {
	validator Validator
	idps      IDPResolver
	sessions  *session.Manager
	auditor   *audit.Service
}

// New builds a Service. auditor may be nil; a nil *audit.Service drops
// entries silently per the audit package's null-object contract.
func New(validator Validator, idps IDPResolver, auditor *audit.Service) (*Service, error) {
	if validator == nil {
		return nil, ErrNoValidator
	}
	return &Service{
		validator: validator,
		idps:      idps,
		sessions:  session.NewManager(),
		auditor:   auditor,
	}, nil
}

// Authenticate implements spec.md §4.4's flow end to end. It never
// panics: SessionManager.CreateSession's invariant-violation panic (a
// role-mapping-policy bug, not a client-triggerable condition) is
// recovered here and converted into an authentication failure, so a
// single malformed IdP configuration cannot crash a request goroutine.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (sess *auth.UserSession, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("auth/service: recovered from panic during authentication: %v", r)
			err = auth.NewError(auth.CodeAuthnRejected, "authentication rejected", fmt.Errorf("internal invariant violation: %v", r))
			sess = nil
		}
	}()

	result, verr := s.validator.Validate(ctx, rawToken)
	if verr != nil {
		s.audit("", false, verr)
		return nil, verr
	}

	idp, ok := s.idps.ByIssuer(result.Issuer)
	if !ok {
		verr = auth.NewError(auth.CodeUnknownIssuer, "issuer not configured", nil)
		s.audit(subjectOf(result), false, verr)
		return nil, verr
	}

	roleResult := rolemap.Map(extractRawRoles(result.Payload, idp), idp)
	built := s.sessions.CreateSession(result.Payload, roleResult, rawToken)

	if built.Rejected {
		rejErr := auth.NewError(auth.CodeAuthnRejected, "authentication rejected by role policy", nil)
		s.audit(built.UserID, false, rejErr)
		return nil, rejErr
	}

	s.audit(built.UserID, true, nil)
	return built, nil
}

func (s *Service) audit(userID string, success bool, cause error) {
	entry := audit.New("auth:service", userID, "authenticate", success)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	s.auditor.Log(entry)
}

func subjectOf(result *token.Result) string {
	if result == nil {
		return ""
	}
	sub, _ := result.Payload["sub"].(string)
	return sub
}

// extractRawRoles reads the role claim named by idp.ClaimMappings.Roles
// (falling back to "roles"), accepting either a JSON array or a
// space-delimited string, same tolerance as scope extraction.
func extractRawRoles(claims map[string]any, idp *auth.TrustedIDP) []string {
	key := idp.ClaimMappings.Roles
	if key == "" {
		key = "roles"
	}
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return splitSpace(v)
	default:
		return nil
	}
}

func splitSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// ErrNoValidator is returned by configurations that forgot to wire a
// Validator; kept as a sentinel so callers can errors.Is against it in
// config-loading tests.
var ErrNoValidator = errors.New("auth/service: no validator configured")
