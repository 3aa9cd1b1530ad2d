package redact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadAllowlists_MissingFilesIgnored(t *testing.T) {
	merged, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, merged.Paths)
	assert.Empty(t, merged.Regexes)
}

func TestLoadAllowlists_MergesProjectAndUser(t *testing.T) {
	projectDir := t.TempDir()
	writeAllowlist(t, filepath.Join(projectDir, ProjectAllowlistFile), `
[allowlist]
paths = ['testdata/.*']
regexes = ['example-token-[0-9]+']
`)

	userFile := filepath.Join(t.TempDir(), "allowlist.toml")
	writeAllowlist(t, userFile, `
[allowlist]
regexes = ['dev-secret-.*']
`)

	merged, err := LoadAllowlists(projectDir, userFile)
	require.NoError(t, err)

	assert.Equal(t, []string{"testdata/.*"}, merged.Paths)
	assert.Equal(t, []string{"example-token-[0-9]+", "dev-secret-.*"}, merged.Regexes)
}

func TestLoadAllowlists_InvalidTOML(t *testing.T) {
	projectDir := t.TempDir()
	writeAllowlist(t, filepath.Join(projectDir, ProjectAllowlistFile), "not [valid toml")

	_, err := LoadAllowlists(projectDir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestLoadAllowlists_InvalidRegex(t *testing.T) {
	projectDir := t.TempDir()
	writeAllowlist(t, filepath.Join(projectDir, ProjectAllowlistFile), `
[allowlist]
paths = ['[bad']
`)

	_, err := LoadAllowlists(projectDir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestLoadAllowlists_EmptyPathsSkip(t *testing.T) {
	merged, err := LoadAllowlists("", "")
	require.NoError(t, err)
	assert.NotNil(t, merged)
	assert.Empty(t, merged.Regexes)
}
