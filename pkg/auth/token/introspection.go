package token

import (
	"context"

	"github.com/mcpauth/obo-core/pkg/auth"
)

// Introspector validates an opaque bearer token against a single issuer's
// RFC 7662 introspection endpoint, returning the issuer's claims when the
// token is active. This is the supplemented fallback path noted in
// SPEC_FULL.md §11: an IdP that issues opaque tokens rather than JWTs is
// not a hard failure, provided an Introspector has been registered for it.
type Introspector interface {
	// Issuer is the iss value this introspector answers for.
	Issuer() string
	// Introspect returns the token's claims if active, or an *auth.Error
	// (CodeExpired/CodeUnknownIssuer/etc.) otherwise.
	Introspect(ctx context.Context, opaqueToken string) (map[string]any, error)
}

// IntrospectorRegistry dispatches opaque-token validation to the
// Introspector registered for a given issuer. Callers that never expect
// opaque tokens can leave the registry empty; WithIntrospector is a no-op
// builder in that case.
type IntrospectorRegistry struct {
	byIssuer map[string]Introspector
}

// NewIntrospectorRegistry builds an empty registry.
func NewIntrospectorRegistry() *IntrospectorRegistry {
	return &IntrospectorRegistry{byIssuer: make(map[string]Introspector)}
}

// Register adds an Introspector, keyed by its own declared issuer.
func (r *IntrospectorRegistry) Register(i Introspector) {
	r.byIssuer[i.Issuer()] = i
}

func (r *IntrospectorRegistry) lookup(issuer string) (Introspector, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.byIssuer[issuer]
	return i, ok
}

func (r *IntrospectorRegistry) all() []Introspector {
	if r == nil {
		return nil
	}
	out := make([]Introspector, 0, len(r.byIssuer))
	for _, i := range r.byIssuer {
		out = append(out, i)
	}
	return out
}

// introspectOpaqueToken is used by Validate when a token does not parse as
// a three-segment JWT. An opaque token carries no inspectable header or
// payload, so every registered introspector is tried in turn; the first
// one to report the token active wins. Registries are expected to be
// small (one per opaque-token-issuing IdP), so this is not a hot loop.
func (v *Validator) introspectOpaqueToken(ctx context.Context, opaqueToken string) (*Result, error) {
	introspectors := v.introspectors.all()
	if len(introspectors) == 0 {
		return nil, auth.NewError(auth.CodeMalformedToken, "token is not a JWT and no introspector is configured", nil)
	}
	var lastErr error
	for _, introspector := range introspectors {
		claims, err := introspector.Introspect(ctx, opaqueToken)
		if err == nil {
			return &Result{Payload: claims, Issuer: introspector.Issuer()}, nil
		}
		lastErr = err
	}
	if authErr, ok := auth.AsAuthError(lastErr); ok {
		return nil, authErr
	}
	return nil, auth.NewError(auth.CodeBadSignature, "introspection failed", lastErr)
}
