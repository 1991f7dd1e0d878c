// Package discovery implements RFC 9728 Protected Resource Metadata: the
// document this resource server publishes describing itself, the
// WWW-Authenticate challenge header parsing a transport integrator needs
// to surface IdP challenges upstream (SPEC_FULL.md §11), and OIDC
// discovery document fetching for the IdPs this module trusts.
package discovery

import (
	"encoding/json"
	"net/http"

	"github.com/mcpauth/obo-core/pkg/logger"
)

// SupportedSigningAlgorithms are the only JWT signing algorithms this
// resource server ever accepts (pkg/auth.AlgRS256, pkg/auth.AlgES256),
// advertised verbatim in resource_signing_alg_values_supported.
var SupportedSigningAlgorithms = []string{"RS256", "ES256"}

// ProtectedResourceMetadata is the RFC 9728 document this resource
// server serves at /.well-known/oauth-protected-resource.
type ProtectedResourceMetadata struct {
	Resource                         string   `json:"resource"`
	AuthorizationServers             []string `json:"authorization_servers"`
	BearerMethodsSupported           []string `json:"bearer_methods_supported"`
	JWKSURI                          string   `json:"jwks_uri,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
}

// MetadataHandler serves a RFC 9728 Protected Resource Metadata document.
// issuers lists the issuer URLs of every trusted IdP (spec.md §6:
// "authorization_servers": [<issuer URLs>]) — not a JWKS endpoint.
// jwksURL, if this resource server exposes its own JWKS, is published
// separately as jwks_uri. If resourceURL is empty the handler returns
// 404 rather than presuming a resource identifier.
func MetadataHandler(issuers []string, jwksURL, resourceURL string, scopes []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if resourceURL == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		supportedScopes := scopes
		if len(supportedScopes) == 0 {
			supportedScopes = []string{"openid"}
		}

		metadata := ProtectedResourceMetadata{
			Resource:                          resourceURL,
			AuthorizationServers:              issuers,
			BearerMethodsSupported:            []string{"header"},
			JWKSURI:                           jwksURL,
			ResourceSigningAlgValuesSupported: SupportedSigningAlgorithms,
			ScopesSupported:                   supportedScopes,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metadata); err != nil {
			logger.Errorf("discovery: failed to encode protected resource metadata: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	})
}
