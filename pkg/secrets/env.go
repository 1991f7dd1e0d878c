package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvProvider resolves secrets from environment variables, optionally
// rewriting the logical name with a prefix (e.g. "OBO_SECRET_").
type EnvProvider struct {
	prefix string
}

// NewEnvProvider returns an EnvProvider that looks up prefix followed by
// the upper-cased name.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Name implements Provider.
func (*EnvProvider) Name() string { return "env" }

// Get implements Provider.
func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	key := p.prefix + strings.ToUpper(name)
	if v, ok := os.LookupEnv(key); ok {
		return v, nil
	}
	return "", ErrNotFound
}
