package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_Get(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DB_PASSWORD"), []byte("hunter2\n"), 0o600))

	p := NewFileProvider(dir)
	v, err := p.Get(context.Background(), "DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestFileProvider_NotFound(t *testing.T) {
	t.Parallel()

	p := NewFileProvider(t.TempDir())
	_, err := p.Get(context.Background(), "ABSENT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileProvider_RejectsTraversal(t *testing.T) {
	t.Parallel()

	p := NewFileProvider(t.TempDir())
	for _, name := range []string{"../escape", "a/b", `a\b`, ".."} {
		_, err := p.Get(context.Background(), name)
		var fatal *FatalError
		assert.True(t, errors.As(err, &fatal), "name %q should be rejected fatally", name)
	}
}
