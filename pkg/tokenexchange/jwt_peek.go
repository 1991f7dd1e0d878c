package tokenexchange

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// peekJWTExpiry decodes an exchanged JWT's payload without verifying its
// signature — this service trusts the IdP that issued it directly over
// the just-completed exchange call, so decode-only is sufficient to
// recover exp/sub/legacy_name/roles for the caller, per spec.md §4.7
// step 3.
func peekJWTExpiry(tokenString string) (map[string]any, time.Time, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, time.Time{}, fmt.Errorf("tokenexchange: exchanged token is not a JWT")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("tokenexchange: failed to decode exchanged token payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, time.Time{}, fmt.Errorf("tokenexchange: failed to parse exchanged token payload: %w", err)
	}

	expFloat, ok := claims["exp"].(float64)
	if !ok {
		return claims, time.Time{}, fmt.Errorf("tokenexchange: exchanged token missing exp claim")
	}
	return claims, time.Unix(int64(expFloat), 0), nil
}
