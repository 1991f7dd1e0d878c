package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

var errMalformedSegments = errors.New("token: expected three dot-separated segments")

// peekHeader decodes a JWT's header segment without verifying the
// signature, so the caller can pick the issuer/algorithm before any
// cryptographic work happens.
func peekHeader(tokenString string) (map[string]any, error) {
	return peekSegment(tokenString, 0)
}

// peekClaims decodes a JWT's payload segment without verifying the
// signature, used only to learn which issuer's key set to trust.
// Validate always re-checks every claim against the verified token.
func peekClaims(tokenString string) (map[string]any, error) {
	return peekSegment(tokenString, 1)
}

func peekSegment(tokenString string, index int) (map[string]any, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errMalformedSegments
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[index])
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
