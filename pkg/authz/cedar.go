package authz

import (
	"context"
	"errors"
	"fmt"
	"math"

	cedar "github.com/cedar-policy/cedar-go"

	"github.com/mcpauth/obo-core/pkg/auth"
)

// ErrNoPolicies is returned by NewCedarAuthorizer when constructed with
// an empty policy set — a Cedar authorizer with no policies denies
// everything, which is almost certainly a configuration mistake rather
// than an intentional deny-all.
var ErrNoPolicies = errors.New("authz: cedar authorizer requires at least one policy")

// ErrMissingPrincipal is returned when AuthorizeToolCall is called
// against a session that cannot be turned into a Cedar principal (no
// authenticated subject).
var ErrMissingPrincipal = errors.New("authz: no authenticated principal in session")

// CedarConfig configures a CedarAuthorizer.
type CedarConfig struct {
	// Policies is one or more Cedar policy statements, parsed together
	// into a single PolicySet.
	Policies []string
}

// CedarAuthorizer is the hard-enforcement tier's policy engine: a small
// embedded Cedar policy set evaluated per tool call, alongside the
// Go-native RequireAnyRole/RequireAllScopes helpers. It complements,
// rather than replaces, those helpers — a tool handler may use either or
// both depending on how expressive its authorization rule needs to be.
type CedarAuthorizer struct {
	policySet *cedar.PolicySet
}

// NewCedarAuthorizer parses cfg.Policies into a PolicySet.
func NewCedarAuthorizer(cfg CedarConfig) (*CedarAuthorizer, error) {
	if len(cfg.Policies) == 0 {
		return nil, ErrNoPolicies
	}

	policySet := cedar.NewPolicySet()
	for i, src := range cfg.Policies {
		policy, err := cedar.NewPolicyFromText(fmt.Sprintf("policy%d", i), []byte(src))
		if err != nil {
			return nil, fmt.Errorf("authz: invalid policy %d: %w", i, err)
		}
		policySet.Add(cedar.PolicyID(fmt.Sprintf("policy%d", i)), policy)
	}

	return &CedarAuthorizer{policySet: policySet}, nil
}

// AuthorizeToolCall evaluates whether session may invoke the action
// "call_tool" on Tool::"<toolName>", with params exposed to policy
// conditions as context.arg_<key> (alongside context.role and
// context.scopes).
func (a *CedarAuthorizer) AuthorizeToolCall(_ context.Context, session *auth.UserSession, toolName string, params map[string]any) (bool, error) {
	if session == nil || session.UserID == "" {
		return false, ErrMissingPrincipal
	}

	principal := cedar.NewEntityUID("User", cedar.String(session.UserID))
	action := cedar.NewEntityUID("Action", cedar.String("call_tool"))
	resource := cedar.NewEntityUID("Tool", cedar.String(toolName))

	contextFields := map[string]any{
		"role":   string(session.Role),
		"scopes": session.Scopes,
	}
	for k, v := range params {
		contextFields["arg_"+k] = v
	}

	request := cedar.Request{
		Principal: principal,
		Action:    action,
		Resource:  resource,
		Context:   convertMapToCedarRecord(contextFields),
	}

	decision, _ := cedar.Authorize(a.policySet, cedar.EntityMap{}, request)
	return decision == cedar.Allow, nil
}

// convertMapToCedarRecord converts a generic params/claims map into a
// cedar.Record, skipping values Cedar has no native representation for
// (nested maps, structs, non-finite floats) rather than failing the
// whole conversion.
func convertMapToCedarRecord(input map[string]any) cedar.Record {
	fields := make(map[cedar.String]cedar.Value, len(input))
	for k, v := range input {
		value, ok := convertToCedarValue(v)
		if ok {
			fields[cedar.String(k)] = value
		}
	}
	return cedar.NewRecord(fields)
}

func convertToCedarValue(v any) (cedar.Value, bool) {
	switch val := v.(type) {
	case bool:
		return cedar.Boolean(val), true
	case string:
		return cedar.String(val), true
	case int:
		return cedar.Long(val), true
	case int64:
		return cedar.Long(val), true
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, false
		}
		decimal, err := cedar.NewDecimalFromFloat(val)
		if err != nil {
			return nil, false
		}
		return decimal, true
	case []string:
		values := make([]cedar.Value, 0, len(val))
		for _, s := range val {
			values = append(values, cedar.String(s))
		}
		return cedar.NewSet(values...), true
	case []any:
		values := make([]cedar.Value, 0, len(val))
		for _, item := range val {
			converted, ok := convertToCedarValue(item)
			if ok {
				values = append(values, converted)
			}
		}
		return cedar.NewSet(values...), true
	default:
		return nil, false
	}
}
