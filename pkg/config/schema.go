package config

// idpSchema is the JSON Schema for a single TrustedIDP entry, applied
// after secret resolution (spec.md §3, §7: "resolve secrets, then
// schema-validate, then install"). additionalProperties:false on every
// object gives us "unknown fields are rejected" for free.
const idpSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "issuer", "jwksUri", "audience", "algorithms"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "issuer": {"type": "string", "minLength": 1},
    "jwksUri": {"type": "string", "minLength": 1},
    "discoveryUrl": {"type": "string"},
    "audience": {"type": "string", "minLength": 1},
    "algorithms": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "enum": ["RS256", "ES256"]}
    },
    "claimMappings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "legacyUsername": {"type": "string"},
        "roles": {"type": "string"},
        "scopes": {"type": "string"}
      }
    },
    "roleMappings": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "admin": {"type": "array", "items": {"type": "string"}},
        "user": {"type": "array", "items": {"type": "string"}},
        "guest": {"type": "array", "items": {"type": "string"}},
        "defaultRole": {"type": "string", "enum": ["admin", "user", "guest", "unassigned"]},
        "rejectUnmappedRoles": {"type": "boolean"}
      }
    },
    "security": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "clockToleranceSeconds": {"type": "integer", "minimum": 0, "maximum": 300},
        "maxTokenAgeSeconds": {"type": "integer", "minimum": 300, "maximum": 7200},
        "requireNbf": {"type": "boolean"}
      }
    },
    "tokenExchange": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "endpoint": {"type": "string"},
        "clientId": {"type": "string"},
        "clientSecret": {"type": "string"},
        "audience": {"type": "string"},
        "cacheEnabled": {"type": "boolean"},
        "cacheTtlSeconds": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// documentSchema is the top-level configuration document: a non-empty
// list of TrustedIDP entries.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["trustedIdps"],
  "properties": {
    "trustedIdps": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "object"}
    }
  }
}`
