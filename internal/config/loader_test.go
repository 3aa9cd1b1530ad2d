package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 85.0, cfg.Quality.MinScore)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
project:
  name: payments-service
llm:
  provider: anthropic
  model: claude-3-5-haiku-20241022
  requests_per_minute: 30
quality:
  min_score: 90
  max_iterations: 6
breaker:
  failure_threshold: 3
  reset_timeout: 45s
timeouts:
  task: 5m
tests:
  command: "go test -race ./..."
`)

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "payments-service", cfg.Project.Name)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.LLM.Model)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 90.0, cfg.Quality.MinScore)
	assert.Equal(t, 6, cfg.Quality.MaxIterations)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Task.Duration())
	assert.Equal(t, "go test -race ./...", cfg.Tests.Command)

	// Untouched sections keep defaults
	assert.Equal(t, 80.0, cfg.Quality.MinCoverage)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.LLM.Duration())
	assert.Equal(t, 5, cfg.Checkpoint.MaxPerPhase)
}

func TestLoad_ExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quality:\n  min_score: 75\n"), 0o600))

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 75.0, cfg.Quality.MinScore)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm:\n  model: gpt-4o-mini\nquality:\n  min_score: 70\n")

	t.Setenv("COCO_LLM_MODEL", "gpt-4o")
	t.Setenv("COCO_QUALITY_MIN_SCORE", "95")
	t.Setenv("COCO_TIMEOUTS_TASK", "3m")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 95.0, cfg.Quality.MinScore)
	assert.Equal(t, 3*time.Minute, cfg.Timeouts.Task.Duration())
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("COCO_LLM_API_KEY", "sk-coco")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-coco", cfg.LLM.APIKey.Value())
}

func TestLoad_APIKeyProviderFallback(t *testing.T) {
	t.Setenv("COCO_LLM_API_KEY", "")

	t.Run("openai", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-openai")
		cfg, err := Load("", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "sk-openai", cfg.LLM.APIKey.Value())
	})

	t.Run("anthropic", func(t *testing.T) {
		t.Setenv("COCO_LLM_PROVIDER", "anthropic")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
		cfg, err := Load("", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
		assert.Equal(t, "sk-ant", cfg.LLM.APIKey.Value())
	})
}

func TestLoad_APIKeyInFileRejected(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm:\n  api_key: sk-leaked\n")

	_, err := Load("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key must not be set")
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm: [unclosed\n")

	_, err := Load("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	big := "# padding\n" + strings.Repeat("# x\n", maxConfigFileSize/4)
	writeConfigFile(t, dir, big)

	_, err := Load("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestLoad_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "llm:\n  provider: cohere\n")

	_, err := Load("", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
