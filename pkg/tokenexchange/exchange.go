// Package tokenexchange implements RFC 8693 OAuth 2.0 Token Exchange for
// the on-behalf-of delegation flow, per spec.md §4.7: pre-flight
// validation, cache-first lookup, sanitised error taxonomy, and audit
// emission on every outcome.
package tokenexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/cache"
	"github.com/mcpauth/obo-core/pkg/logger"
	"github.com/mcpauth/obo-core/pkg/ratelimit"
	"github.com/mcpauth/obo-core/pkg/secrets"
)

const (
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeJWT           = "urn:ietf:params:oauth:token-type:jwt"
	tokenTypeAccessToken   = "urn:ietf:params:oauth:token-type:access_token"

	defaultHTTPTimeout  = 30 * time.Second
	maxResponseBodySize = 1 << 20 // 1 MB

	minCacheRemaining = 5 * time.Second

	exchangePerMinute = 120
	exchangeBurst     = 20
)

// ErrorCode is the closed, sanitised error taxonomy of spec.md §4.7's
// error section. No error message built from these ever contains a
// subject token, client secret, or raw IdP response body.
type ErrorCode string

const (
	ErrInsecure ErrorCode = "TOKEN_EXCHANGE_INSECURE"
	ErrHTTP     ErrorCode = "TOKEN_EXCHANGE_HTTP"
	ErrIDP      ErrorCode = "TOKEN_EXCHANGE_IDP_ERROR"
	ErrTimeout  ErrorCode = "TOKEN_EXCHANGE_TIMEOUT"
)

// Error is a sanitised token-exchange failure.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *Error) Unwrap() error { return e.cause }

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Request is the input to Exchange.
type Request struct {
	SubjectToken string
	Audience     string
	Scope        []string
	SessionID    string // optional; enables cache scoping
	JWTSubject   string // the requestor's "sub" claim, for cache session binding
}

// Result is the successful outcome of Exchange.
type Result struct {
	AccessToken string
	ExpiresAt   time.Time
	Claims      map[string]any
}

// Config is the resolved (post-secret-resolution) configuration for one
// IdP's token endpoint.
type Config struct {
	TokenEndpoint   string
	ClientID        string
	ClientSecretRef string // a $secret descriptor name, resolved via secrets.Resolver
	Audience        string
	CacheEnabled    bool
	CacheTTL        time.Duration
	// IsDevelopment relaxes the HTTPS-only pre-flight check for
	// local/test environments, mirroring the teacher's own localhost
	// carve-outs in pkg/auth/discovery.
	IsDevelopment bool
}

// Service implements TokenExchangeService.
type Service struct {
	cfg            Config
	secretResolver *secrets.Resolver
	cache          *cache.Cache // nil disables caching regardless of cfg.CacheEnabled
	auditor        *audit.Service
	httpClient     *http.Client
	limiter        *ratelimit.KeyedLimiter
}

// New builds a Service. cacheImpl and auditor may be nil.
func New(cfg Config, resolver *secrets.Resolver, cacheImpl *cache.Cache, auditor *audit.Service) *Service {
	return &Service{
		cfg:            cfg,
		secretResolver: resolver,
		cache:          cacheImpl,
		auditor:        auditor,
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		limiter:        ratelimit.New(exchangePerMinute, exchangeBurst),
	}
}

// canonicalizeScope sorts and space-joins a scope list so cache keys are
// independent of caller-supplied scope ordering (SPEC_FULL.md §12 Open
// Question decision 1).
func canonicalizeScope(scope []string) string {
	sorted := append([]string(nil), scope...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

func cacheKeyFor(audience string, scope []string) string {
	return "te:" + audience + ":" + canonicalizeScope(scope)
}

// Exchange performs (or serves from cache) an RFC 8693 token exchange.
func (s *Service) Exchange(ctx context.Context, req Request) (*Result, error) {
	if err := s.preflight(req); err != nil {
		s.audit(req, false, err)
		return nil, err
	}

	if req.SessionID != "" && s.cfg.CacheEnabled && s.cache != nil {
		key := cacheKeyFor(req.Audience, req.Scope)
		s.cache.ActivateSession(req.SessionID, req.SubjectToken, req.JWTSubject)
		if cached, ok := s.tryCache(req.SessionID, key, req.SubjectToken); ok {
			s.audit(req, true, nil)
			return cached, nil
		}
	}

	if !s.limiter.Allow(req.SessionID + ":" + req.Audience) {
		err := newError(ErrHTTP, "token exchange rate limit exceeded", nil)
		s.audit(req, false, err)
		return nil, err
	}

	clientSecret, err := s.secretResolver.Resolve(ctx, s.cfg.ClientSecretRef)
	if err != nil {
		err := newError(ErrIDP, "unable to resolve client secret", err)
		s.audit(req, false, err)
		return nil, err
	}

	result, err := s.exchangeOverHTTP(ctx, req, clientSecret)
	if err != nil {
		s.audit(req, false, err)
		return nil, err
	}

	if req.SessionID != "" && s.cfg.CacheEnabled && s.cache != nil {
		key := cacheKeyFor(req.Audience, req.Scope)
		if setErr := s.cache.Set(req.SessionID, key, result.AccessToken, req.SubjectToken, result.ExpiresAt); setErr != nil {
			logger.Warnf("tokenexchange: failed to cache exchanged token: %v", setErr)
		}
	}

	s.audit(req, true, nil)
	return result, nil
}

func (s *Service) tryCache(sessionID, key, subjectToken string) (*Result, bool) {
	plaintext, err := s.cache.Get(sessionID, key, subjectToken)
	if err != nil {
		return nil, false
	}
	claims, expiresAt, err := peekJWTExpiry(plaintext)
	if err != nil || time.Until(expiresAt) < minCacheRemaining {
		return nil, false
	}
	return &Result{AccessToken: plaintext, ExpiresAt: expiresAt, Claims: claims}, true
}

// preflight enforces spec.md §4.7's pre-flight validation: HTTPS unless
// development, non-empty subject token, and a configured client secret
// reference (actual resolution happens lazily, only when the cache
// misses, to avoid unnecessary secret-store round-trips on a hit).
func (s *Service) preflight(req Request) error {
	if req.SubjectToken == "" {
		return newError(ErrHTTP, "subject token is required", nil)
	}
	if s.cfg.ClientSecretRef == "" {
		return newError(ErrIDP, "client secret is not configured", nil)
	}
	parsed, err := url.Parse(s.cfg.TokenEndpoint)
	if err != nil {
		return newError(ErrInsecure, "token endpoint is not a valid URL", err)
	}
	if parsed.Scheme != "https" && !s.cfg.IsDevelopment {
		return newError(ErrInsecure, "token endpoint must use https", nil)
	}
	return nil
}

func (s *Service) exchangeOverHTTP(ctx context.Context, req Request, clientSecret string) (*Result, error) {
	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", req.SubjectToken)
	data.Set("subject_token_type", tokenTypeJWT)
	data.Set("audience", req.Audience)
	if len(req.Scope) > 0 {
		data.Set("scope", strings.Join(req.Scope, " "))
	}
	data.Set("client_id", s.cfg.ClientID)

	encoded := data.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenEndpoint, strings.NewReader(encoded))
	if err != nil {
		return nil, newError(ErrHTTP, "failed to build exchange request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
	httpReq.SetBasicAuth(url.QueryEscape(s.cfg.ClientID), url.QueryEscape(clientSecret))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(ErrTimeout, "token exchange request timed out", err)
		}
		return nil, newError(ErrHTTP, "token exchange request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, newError(ErrHTTP, "failed to read token exchange response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Debugf("tokenexchange: idp returned status %d: %s", resp.StatusCode, string(body))
		if oauthErr := parseOAuthError(body); oauthErr != "" {
			return nil, newError(ErrIDP, fmt.Sprintf("idp rejected exchange: %s", oauthErr), nil)
		}
		return nil, newError(ErrHTTP, fmt.Sprintf("token exchange failed with status %d", resp.StatusCode), nil)
	}

	var tokenResp struct {
		AccessToken     string `json:"access_token"`
		IssuedTokenType string `json:"issued_token_type"`
		TokenType       string `json:"token_type"`
		ExpiresIn       int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, newError(ErrIDP, "failed to parse token exchange response", nil)
	}
	if tokenResp.AccessToken == "" {
		return nil, newError(ErrIDP, "idp returned an empty access token", nil)
	}

	claims, exp, err := peekJWTExpiry(tokenResp.AccessToken)
	configuredExpiry := time.Now().Add(s.effectiveTTL())
	expiresAt := configuredExpiry
	if err == nil && exp.Before(configuredExpiry) {
		expiresAt = exp
	}
	if tokenResp.ExpiresIn > 0 {
		fromServer := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
		if fromServer.Before(expiresAt) {
			expiresAt = fromServer
		}
	}

	return &Result{AccessToken: tokenResp.AccessToken, ExpiresAt: expiresAt, Claims: claims}, nil
}

func (s *Service) effectiveTTL() time.Duration {
	if s.cfg.CacheTTL > 0 {
		return s.cfg.CacheTTL
	}
	return time.Hour
}

func parseOAuthError(body []byte) string {
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Error == "" {
		return ""
	}
	if oauthErr.ErrorDescription != "" {
		return oauthErr.Error + ": " + oauthErr.ErrorDescription
	}
	return oauthErr.Error
}

func (s *Service) audit(req Request, success bool, cause error) {
	entry := audit.New("tokenexchange:service", req.JWTSubject, "exchange", success).
		WithResource(req.Audience)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	s.auditor.Log(entry)
}

var _ oauth2.TokenSource = (*tokenSourceAdapter)(nil)

// tokenSourceAdapter lets Service.Exchange results be consumed anywhere
// an oauth2.TokenSource is expected (e.g. passed into an SDK HTTP
// client), without leaking the Service's own internals.
type tokenSourceAdapter struct {
	svc *Service
	req Request
	ctx context.Context
}

// TokenSource adapts req into an oauth2.TokenSource backed by s.Exchange.
func (s *Service) TokenSource(ctx context.Context, req Request) oauth2.TokenSource {
	return &tokenSourceAdapter{svc: s, req: req, ctx: ctx}
}

func (a *tokenSourceAdapter) Token() (*oauth2.Token, error) {
	result, err := a.svc.Exchange(a.ctx, a.req)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		Expiry:      result.ExpiresAt,
	}, nil
}
