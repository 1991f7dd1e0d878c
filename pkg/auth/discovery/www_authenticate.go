package discovery

import (
	"fmt"
	"strings"
)

// ChallengeInfo is the parsed content of a WWW-Authenticate challenge
// header, per RFC 6750 §3 and the RFC 9728 resource_metadata extension.
type ChallengeInfo struct {
	Scheme           string
	Realm            string
	ResourceMetadata string
	Error            string
	ErrorDescription string
}

// ParseWWWAuthenticate parses a WWW-Authenticate header value. Only the
// Bearer scheme is supported, since that is the only scheme this module
// ever issues or consumes; any other scheme is reported as an error
// rather than silently ignored.
func ParseWWWAuthenticate(header string) (*ChallengeInfo, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("discovery: empty WWW-Authenticate header")
	}

	params, ok := strings.CutPrefix(header, "Bearer")
	if !ok {
		scheme := strings.SplitN(header, " ", 2)[0]
		return nil, fmt.Errorf("discovery: unsupported authentication scheme: %s", scheme)
	}

	info := &ChallengeInfo{Scheme: "Bearer"}
	params = strings.TrimSpace(params)
	if params == "" {
		return info, nil
	}

	info.Realm = extractParameter(params, "realm")
	info.ResourceMetadata = extractParameter(params, "resource_metadata")
	info.Error = extractParameter(params, "error")
	info.ErrorDescription = extractParameter(params, "error_description")
	return info, nil
}

// extractParameter extracts a single quoted or unquoted parameter value
// from an auth-param list, per RFC 7235 §2.1.
func extractParameter(params, name string) string {
	search := name + "="
	idx := strings.Index(params, search)
	if idx == -1 {
		return ""
	}

	remainder := params[idx+len(search):]
	if strings.HasPrefix(remainder, `"`) {
		for end := 1; end < len(remainder); end++ {
			if remainder[end] == '"' && remainder[end-1] != '\\' {
				return strings.ReplaceAll(remainder[1:end], `\"`, `"`)
			}
		}
		return ""
	}

	end := strings.IndexAny(remainder, ", ")
	if end == -1 {
		return strings.TrimSpace(remainder)
	}
	return strings.TrimSpace(remainder[:end])
}
