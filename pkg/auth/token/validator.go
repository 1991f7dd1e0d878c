// Package token implements per-request JWT validation against a set of
// trusted issuers, per spec.md §4.1: signature, algorithm allow-list,
// issuer/audience/exp/nbf/max-age claim checks, and a rate-limited,
// size-and-TTL-bounded JWKS cache keyed by issuer.
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/logger"
	"github.com/mcpauth/obo-core/pkg/ratelimit"
)

// Result is the successful outcome of Validate: the decoded claims plus
// the issuer and key id that verified them, per spec.md §4.1's contract.
type Result struct {
	Payload jwt.MapClaims
	Issuer  string
	Kid     string
}

// jwksRefetchPerMinute and jwksRefetchBurst bound how often a single
// issuer's JWKS may be re-fetched (spec.md §5).
const (
	jwksRefetchPerMinute = 6
	jwksRefetchBurst     = 2
	defaultJWKSTimeout   = 10 * time.Second
)

// Validator validates bearer JWTs against a fixed set of trusted issuers.
type Validator struct {
	idps map[string]*auth.TrustedIDP // keyed by issuer

	jwksCache     *jwk.Cache
	httpClient    *http.Client
	rateLimiter   *ratelimit.KeyedLimiter
	fetchGroup    singleflight.Group
	introspectors *IntrospectorRegistry
}

// WithIntrospector registers an opaque-token introspector, enabling the
// fallback path described in SPEC_FULL.md §11. Safe to call before the
// validator receives any traffic; not safe for concurrent use with Validate.
func (v *Validator) WithIntrospector(i Introspector) *Validator {
	if v.introspectors == nil {
		v.introspectors = NewIntrospectorRegistry()
	}
	v.introspectors.Register(i)
	return v
}

// NewValidator builds a Validator trusting the given IdPs (keyed by their
// Issuer field). A shared *http.Client is used for all JWKS fetches; pass
// nil to use a new http.Client with a 10-second timeout.
func NewValidator(ctx context.Context, idps []*auth.TrustedIDP, httpClient *http.Client) (*Validator, error) {
	if len(idps) == 0 {
		return nil, errors.New("token: at least one trusted IdP is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultJWKSTimeout}
	}

	byIssuer := make(map[string]*auth.TrustedIDP, len(idps))
	for _, idp := range idps {
		if idp.Issuer == "" {
			return nil, fmt.Errorf("token: IdP %q missing issuer", idp.Name)
		}
		if idp.JWKSURI == "" {
			return nil, fmt.Errorf("token: IdP %q missing jwksUri", idp.Name)
		}
		if len(idp.Algorithms) == 0 {
			return nil, fmt.Errorf("token: IdP %q must declare at least one algorithm", idp.Name)
		}
		for _, a := range idp.Algorithms {
			if a != auth.AlgRS256 && a != auth.AlgES256 {
				return nil, fmt.Errorf("token: IdP %q declares unsupported algorithm %q", idp.Name, a)
			}
		}
		byIssuer[idp.Issuer] = idp
	}

	httprcClient := httprc.NewClient(httprc.WithHTTPClient(httpClient))
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("token: failed to create JWKS cache: %w", err)
	}

	return &Validator{
		idps:          byIssuer,
		jwksCache:     cache,
		httpClient:    httpClient,
		rateLimiter:   ratelimit.New(jwksRefetchPerMinute, jwksRefetchBurst),
		introspectors: NewIntrospectorRegistry(),
	}, nil
}

// Validate implements spec.md §4.1's full algorithm. The validator never
// writes to the audit trail itself — it has no subject until claims are
// decoded — so every error is returned for the caller (AuthenticationService)
// to audit.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Result, error) {
	header, err := peekHeader(tokenString)
	if err != nil {
		if errors.Is(err, errMalformedSegments) {
			return v.introspectOpaqueToken(ctx, tokenString)
		}
		return nil, auth.NewError(auth.CodeMalformedToken, "malformed token", err)
	}

	alg, _ := header["alg"].(string)
	if alg == "" || strings.EqualFold(alg, "none") || isHMAC(alg) {
		return nil, auth.NewError(auth.CodeBadAlgorithm, "algorithm not permitted", nil)
	}

	unverifiedClaims, err := peekClaims(tokenString)
	if err != nil {
		return nil, auth.NewError(auth.CodeMalformedToken, "malformed token", err)
	}

	issuer, _ := unverifiedClaims["iss"].(string)
	idp, ok := v.idps[issuer]
	if !ok {
		return nil, auth.NewError(auth.CodeUnknownIssuer, "issuer not trusted", nil)
	}

	if !idp.AllowsAlgorithm(alg) {
		return nil, auth.NewError(auth.CodeBadAlgorithm, "algorithm not permitted for issuer", nil)
	}

	var kid string
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		kid, _ = t.Header["kid"].(string)
		return v.resolveKey(ctx, idp, kid)
	}, jwt.WithValidMethods([]string{string(auth.AlgRS256), string(auth.AlgES256)}))

	if err != nil {
		if errors.Is(err, errKeyNotFound) || errors.Is(err, errJWKSFetch) {
			return nil, auth.NewError(auth.CodeUnknownKey, "unable to resolve signing key", err)
		}
		return nil, auth.NewError(auth.CodeBadSignature, "signature verification failed", err)
	}
	if !parsed.Valid {
		return nil, auth.NewError(auth.CodeBadSignature, "token invalid", nil)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, auth.NewError(auth.CodeMalformedToken, "unexpected claims type", nil)
	}

	if err := v.validateClaims(claims, idp); err != nil {
		return nil, err
	}

	return &Result{Payload: claims, Issuer: issuer, Kid: kid}, nil
}

func isHMAC(alg string) bool {
	return strings.HasPrefix(strings.ToUpper(alg), "HS")
}

var (
	errKeyNotFound = errors.New("key id not found in JWKS")
	errJWKSFetch   = errors.New("failed to fetch JWKS")
)

// resolveKey looks up kid in idp's JWKS, fetching (and rate-limiting
// refetches of) the set as needed. Concurrent lookups for the same issuer
// collapse into a single fetch via singleflight.
func (v *Validator) resolveKey(ctx context.Context, idp *auth.TrustedIDP, kid string) (any, error) {
	if err := v.ensureRegistered(ctx, idp); err != nil {
		return nil, fmt.Errorf("%w: %v", errJWKSFetch, err)
	}

	set, err := v.jwksCache.Lookup(ctx, idp.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errJWKSFetch, err)
	}

	key, found := set.LookupKeyID(kid)
	if !found {
		// Cache-bust by kid: force one refetch, rate-limited per issuer.
		if !v.rateLimiter.Allow(idp.Issuer) {
			return nil, fmt.Errorf("%w: refetch rate limited for issuer %s", errKeyNotFound, idp.Issuer)
		}
		if _, err, _ := v.fetchGroup.Do(idp.Issuer, func() (any, error) {
			return nil, v.refetchWithRetry(ctx, idp)
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", errJWKSFetch, err)
		}

		set, err = v.jwksCache.Lookup(ctx, idp.JWKSURI)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errJWKSFetch, err)
		}
		key, found = set.LookupKeyID(kid)
		if !found {
			return nil, errKeyNotFound
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export key material: %w", err)
	}
	return rawKey, nil
}

func (v *Validator) ensureRegistered(ctx context.Context, idp *auth.TrustedIDP) error {
	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// Register is idempotent per-URL in jwk.Cache; calling it repeatedly
	// across requests is cheap and keeps the validator stateless per-IdP.
	return v.jwksCache.Register(regCtx, idp.JWKSURI)
}

// refetchWithRetry retries a JWKS refresh once after 200ms on network
// error, per spec.md §7's retry policy.
func (v *Validator) refetchWithRetry(ctx context.Context, idp *auth.TrustedIDP) error {
	op := func() (struct{}, error) {
		_, err := v.jwksCache.Refresh(ctx, idp.JWKSURI)
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(2),
		backoff.WithBackOff(backoff.NewConstantBackOff(200*time.Millisecond)),
	)
	if err != nil {
		logger.Warnf("token: JWKS refresh failed for issuer %s: %v", idp.Issuer, err)
	}
	return err
}

// validateClaims implements the claim checks of spec.md §4.1.
func (v *Validator) validateClaims(claims jwt.MapClaims, idp *auth.TrustedIDP) error {
	now := time.Now()
	tolerance := idp.Security.ClockTolerance()

	iss, _ := claims.GetIssuer()
	if iss != idp.Issuer {
		return auth.NewError(auth.CodeUnknownIssuer, "issuer claim mismatch", nil)
	}

	if idp.Audience != "" {
		auds, _ := claims.GetAudience()
		if !containsString(auds, idp.Audience) {
			return auth.NewError(auth.CodeBadAudience, "audience not accepted", nil)
		}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return auth.NewError(auth.CodeExpired, "token missing expiration", nil)
	}
	if exp.Time.Add(tolerance).Before(now) {
		return auth.NewError(auth.CodeExpired, "token expired", nil)
	}

	nbf, err := claims.GetNotBefore()
	if idp.Security.RequireNbf && (err != nil || nbf == nil) {
		return auth.NewError(auth.CodeNotYetValid, "token missing required nbf claim", nil)
	}
	if nbf != nil && nbf.Time.After(now.Add(tolerance)) {
		return auth.NewError(auth.CodeNotYetValid, "token not yet valid", nil)
	}

	iat, err := claims.GetIssuedAt()
	if err == nil && iat != nil {
		maxAge := idp.Security.MaxTokenAge()
		if maxAge > 0 && now.Sub(iat.Time) > maxAge {
			return auth.NewError(auth.CodeClockSkew, "token exceeds maximum age", nil)
		}
	}

	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
