package discovery

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// EndpointDocument is the subset of an OIDC discovery document this
// module consults when an operator configures a TrustedIDP by issuer
// rather than by explicit jwksUri/endpoint values.
type EndpointDocument struct {
	Issuer                string
	JWKSURI               string
	TokenEndpoint         string
	IntrospectionEndpoint string
}

// DiscoverEndpoints fetches and validates an OIDC discovery document via
// go-oidc's provider bootstrap, which enforces issuer matching for us.
func DiscoverEndpoints(ctx context.Context, issuer string) (*EndpointDocument, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to discover OIDC endpoints for %s: %w", issuer, err)
	}

	var claims struct {
		JWKSURI               string `json:"jwks_uri"`
		IntrospectionEndpoint string `json:"introspection_endpoint"`
	}
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("discovery: failed to decode discovery document for %s: %w", issuer, err)
	}

	return &EndpointDocument{
		Issuer:                issuer,
		JWKSURI:               claims.JWKSURI,
		TokenEndpoint:         provider.Endpoint().TokenURL,
		IntrospectionEndpoint: claims.IntrospectionEndpoint,
	}, nil
}
