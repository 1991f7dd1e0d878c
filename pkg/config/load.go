// Package config loads the TrustedIDP configuration document of spec.md
// §3/§7: a single JSON file, "$secret" descriptors resolved before
// validation, schema-validated against a closed shape that rejects
// unknown fields, then decoded into auth.TrustedIDP values ready for
// Validator construction.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/secrets"
)

// Load reads raw (a JSON document matching documentSchema), resolves any
// "$secret" descriptors via resolver, schema-validates the resolved
// document, and decodes it into a slice of auth.TrustedIDP.
func Load(ctx context.Context, raw []byte, resolver *secrets.Resolver) ([]auth.TrustedIDP, error) {
	var generic any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("config: invalid JSON: %w", err)
	}

	resolved, err := resolver.ResolveObject(ctx, generic)
	if err != nil {
		return nil, fmt.Errorf("config: resolving secrets: %w", err)
	}

	resolvedJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("config: re-encoding resolved document: %w", err)
	}

	if err := validateAgainstSchema(documentSchema, resolvedJSON); err != nil {
		return nil, fmt.Errorf("config: document schema validation failed: %w", err)
	}

	var doc document
	strictDecoder := json.NewDecoder(strings.NewReader(string(resolvedJSON)))
	strictDecoder.DisallowUnknownFields()
	if err := strictDecoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: decoding document: %w", err)
	}

	idps := make([]auth.TrustedIDP, 0, len(doc.TrustedIDPs))
	for i, raw := range doc.TrustedIDPs {
		entryJSON, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("config: re-encoding trustedIdps[%d]: %w", i, err)
		}
		if err := validateAgainstSchema(idpSchema, entryJSON); err != nil {
			return nil, fmt.Errorf("config: trustedIdps[%d] schema validation failed: %w", i, err)
		}

		var entry idpEntry
		entryDecoder := json.NewDecoder(strings.NewReader(string(entryJSON)))
		entryDecoder.DisallowUnknownFields()
		if err := entryDecoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("config: trustedIdps[%d]: %w", i, err)
		}

		idps = append(idps, entry.toTrustedIDP())
	}

	return idps, nil
}

func validateAgainstSchema(schema string, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema evaluation error: %w", err)
	}
	if !result.Valid() {
		var messages []string
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("%s", strings.Join(messages, "; "))
	}
	return nil
}

type document struct {
	TrustedIDPs []json.RawMessage `json:"trustedIdps"`
}

type idpEntry struct {
	Name          string             `json:"name"`
	Issuer        string             `json:"issuer"`
	JWKSURI       string             `json:"jwksUri"`
	DiscoveryURL  string             `json:"discoveryUrl"`
	Audience      string             `json:"audience"`
	Algorithms    []string           `json:"algorithms"`
	ClaimMappings *claimMappings     `json:"claimMappings"`
	RoleMappings  *roleMappings      `json:"roleMappings"`
	Security      *securityPolicy    `json:"security"`
	TokenExchange *tokenExchangeSpec `json:"tokenExchange"`
}

type claimMappings struct {
	LegacyUsername string `json:"legacyUsername"`
	Roles          string `json:"roles"`
	Scopes         string `json:"scopes"`
}

type roleMappings struct {
	Admin               []string `json:"admin"`
	User                []string `json:"user"`
	Guest               []string `json:"guest"`
	DefaultRole         string   `json:"defaultRole"`
	RejectUnmappedRoles bool     `json:"rejectUnmappedRoles"`
}

type securityPolicy struct {
	ClockToleranceSeconds int  `json:"clockToleranceSeconds"`
	MaxTokenAgeSeconds    int  `json:"maxTokenAgeSeconds"`
	RequireNbf            bool `json:"requireNbf"`
}

type tokenExchangeSpec struct {
	Endpoint        string `json:"endpoint"`
	ClientID        string `json:"clientId"`
	ClientSecret    string `json:"clientSecret"`
	Audience        string `json:"audience"`
	CacheEnabled    bool   `json:"cacheEnabled"`
	CacheTTLSeconds int    `json:"cacheTtlSeconds"`
}

func (e idpEntry) toTrustedIDP() auth.TrustedIDP {
	algorithms := make([]auth.Algorithm, 0, len(e.Algorithms))
	for _, a := range e.Algorithms {
		algorithms = append(algorithms, auth.Algorithm(a))
	}

	idp := auth.TrustedIDP{
		Name:         e.Name,
		Issuer:       e.Issuer,
		JWKSURI:      e.JWKSURI,
		DiscoveryURL: e.DiscoveryURL,
		Audience:     e.Audience,
		Algorithms:   algorithms,
	}

	if e.ClaimMappings != nil {
		idp.ClaimMappings = auth.ClaimMappings{
			LegacyUsername: e.ClaimMappings.LegacyUsername,
			Roles:          e.ClaimMappings.Roles,
			Scopes:         e.ClaimMappings.Scopes,
		}
	}

	if e.RoleMappings != nil {
		idp.RoleMappings = auth.RoleMappings{
			Admin:               e.RoleMappings.Admin,
			User:                e.RoleMappings.User,
			Guest:               e.RoleMappings.Guest,
			DefaultRole:         auth.Role(e.RoleMappings.DefaultRole),
			RejectUnmappedRoles: e.RoleMappings.RejectUnmappedRoles,
		}
	}

	if e.Security != nil {
		idp.Security = auth.SecurityPolicy{
			ClockToleranceSeconds: e.Security.ClockToleranceSeconds,
			MaxTokenAgeSeconds:    e.Security.MaxTokenAgeSeconds,
			RequireNbf:            e.Security.RequireNbf,
		}
	}

	if e.TokenExchange != nil {
		idp.TokenExchange = &auth.TokenExchangeConfig{
			Endpoint:        e.TokenExchange.Endpoint,
			ClientID:        e.TokenExchange.ClientID,
			ClientSecretRef: e.TokenExchange.ClientSecret,
			Audience:        e.TokenExchange.Audience,
			CacheEnabled:    e.TokenExchange.CacheEnabled,
			CacheTTLSeconds: e.TokenExchange.CacheTTLSeconds,
		}
	}

	return idp
}
