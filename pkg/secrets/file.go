package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider resolves secrets from files mounted under a base directory,
// one secret per file (the typical Kubernetes/Docker secret-mount shape).
// It never caches a value, so rotating the underlying file is picked up on
// the next resolution (spec.md §4.6: "No caching (supports hot-reload)").
type FileProvider struct {
	baseDir string
}

// NewFileProvider returns a FileProvider rooted at baseDir (e.g. /run/secrets).
func NewFileProvider(baseDir string) *FileProvider {
	return &FileProvider{baseDir: baseDir}
}

// Name implements Provider.
func (*FileProvider) Name() string { return "file" }

// Get implements Provider. Names containing path separators or ".." are
// rejected outright to prevent escaping baseDir via a crafted secret name.
func (p *FileProvider) Get(_ context.Context, name string) (string, error) {
	if err := validateSecretName(name); err != nil {
		return "", Fatal(p.Name(), err)
	}

	path := filepath.Join(p.baseDir, name)
	data, err := os.ReadFile(path) //nolint:gosec // path is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		if os.IsPermission(err) {
			return "", Fatal(p.Name(), fmt.Errorf("permission denied reading secret %q: %w", name, err))
		}
		return "", fmt.Errorf("file provider: read %q: %w", name, err)
	}

	return strings.TrimRight(string(data), "\r\n"), nil
}

// validateSecretName rejects names that could be used to escape baseDir.
func validateSecretName(name string) error {
	if name == "" {
		return fmt.Errorf("secret name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("secret name %q contains disallowed path characters", name)
	}
	return nil
}
