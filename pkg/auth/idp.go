package auth

import "time"

// Algorithm is a JWT signing algorithm this resource server is willing to
// accept. Only asymmetric algorithms are permitted (spec.md §4.1): "none"
// and HMAC variants are never valid values here.
type Algorithm string

const (
	AlgRS256 Algorithm = "RS256"
	AlgES256 Algorithm = "ES256"
)

// ClaimMappings locates IdP-specific claims within the decoded JWT payload
// via dot-separated JSON paths.
type ClaimMappings struct {
	LegacyUsername string
	Roles          string
	Scopes         string
}

// RoleMappings maps raw IdP role claims onto the internal Role taxonomy,
// per spec.md §4.2.
type RoleMappings struct {
	Admin               []string
	User                []string
	Guest               []string
	DefaultRole         Role
	RejectUnmappedRoles bool
}

// SecurityPolicy bounds the token-age and clock-skew tolerances accepted
// during validation (spec.md §3).
type SecurityPolicy struct {
	ClockToleranceSeconds int // 0..300
	MaxTokenAgeSeconds    int // 300..7200
	RequireNbf            bool
}

// ClockTolerance returns the configured clock skew tolerance as a duration.
func (s SecurityPolicy) ClockTolerance() time.Duration {
	return time.Duration(s.ClockToleranceSeconds) * time.Second
}

// MaxTokenAge returns the configured maximum token age as a duration.
func (s SecurityPolicy) MaxTokenAge() time.Duration {
	return time.Duration(s.MaxTokenAgeSeconds) * time.Second
}

// TokenExchangeConfig configures this IdP's RFC 8693 token endpoint for
// on-behalf-of delegation (spec.md §3, §4.7).
type TokenExchangeConfig struct {
	Endpoint        string
	ClientID        string
	ClientSecretRef string // resolved via pkg/secrets before use
	Audience        string
	CacheTTLSeconds int
	CacheEnabled    bool
}

// TrustedIDP is one configured, trusted identity provider.
type TrustedIDP struct {
	Name          string
	Issuer        string
	JWKSURI       string
	DiscoveryURL  string
	Audience      string
	Algorithms    []Algorithm
	ClaimMappings ClaimMappings
	RoleMappings  RoleMappings
	Security      SecurityPolicy
	TokenExchange *TokenExchangeConfig
}

// AllowsAlgorithm reports whether alg is in this IdP's configured allow-list.
func (idp *TrustedIDP) AllowsAlgorithm(alg string) bool {
	for _, a := range idp.Algorithms {
		if string(a) == alg {
			return true
		}
	}
	return false
}
