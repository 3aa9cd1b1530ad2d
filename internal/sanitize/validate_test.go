package sanitize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	t.Run("relative path resolves under root", func(t *testing.T) {
		got, err := ValidatePath("internal/server.go", root)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "internal", "server.go"), got)
	})

	t.Run("absolute path inside root", func(t *testing.T) {
		target := filepath.Join(root, "main.go")
		got, err := ValidatePath(target, root)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("traversal rejected", func(t *testing.T) {
		_, err := ValidatePath("../outside.go", root)
		require.ErrorIs(t, err, ErrPathTraversal)
	})

	t.Run("nested traversal rejected", func(t *testing.T) {
		_, err := ValidatePath("a/../../etc/passwd", root)
		require.ErrorIs(t, err, ErrPathTraversal)
	})

	t.Run("absolute path outside root rejected", func(t *testing.T) {
		_, err := ValidatePath("/etc/passwd", root)
		require.ErrorIs(t, err, ErrPathTraversal)
	})

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := ValidatePath("", root)
		require.ErrorIs(t, err, ErrEmptyPath)
	})

	t.Run("no root performs traversal checks only", func(t *testing.T) {
		_, err := ValidatePath("/etc/passwd", "")
		require.NoError(t, err)

		_, err = ValidatePath("../x", "")
		require.ErrorIs(t, err, ErrPathTraversal)
	})
}

func TestSafeBasename(t *testing.T) {
	got, err := SafeBasename("/home/dev/myproject")
	require.NoError(t, err)
	assert.Equal(t, "myproject", got)

	_, err = SafeBasename("../project")
	require.ErrorIs(t, err, ErrPathTraversal)

	_, err = SafeBasename("")
	require.ErrorIs(t, err, ErrEmptyPath)
}
