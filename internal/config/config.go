// Package config provides configuration loading for coco.
//
// Configuration is read from a YAML file (coco.yaml at the project root by
// default) and overridden by COCO_-prefixed environment variables. Secrets
// such as LLM API keys are accepted only from the environment and are never
// written to disk.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/quality"
	"github.com/fyrsmithlabs/coco/internal/resilience"
	"github.com/fyrsmithlabs/coco/internal/telemetry"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds the complete coco configuration tree.
type Config struct {
	Project    ProjectConfig      `koanf:"project"`
	LLM        LLMConfig          `koanf:"llm"`
	Quality    quality.Thresholds `koanf:"quality"`
	Breaker    resilience.Config  `koanf:"breaker"`
	Checkpoint checkpoint.Config  `koanf:"checkpoint"`
	Timeouts   TimeoutConfig      `koanf:"timeouts"`
	Tests      TestConfig         `koanf:"tests"`
	Redact     RedactConfig       `koanf:"redact"`
	Logging    logging.Config     `koanf:"logging"`
	Telemetry  telemetry.Config   `koanf:"telemetry"`
	Server     ServerConfig       `koanf:"server"`
}

// ProjectConfig identifies the project the pipeline operates on.
type ProjectConfig struct {
	// Name labels the project in state files and reports. Defaults to the
	// project directory basename when empty.
	Name string `koanf:"name"`

	// Goal states what the pipeline should build. When empty, the converge
	// phase reads the project brief from .coco/brief.md instead.
	Goal string `koanf:"goal"`
}

// LLMConfig holds provider selection and request shaping for LLM calls.
//
// APIKey is intentionally excluded from file loading: it is resolved from
// COCO_LLM_API_KEY or the provider-conventional variable (OPENAI_API_KEY,
// ANTHROPIC_API_KEY). A key found in the YAML file is a load error.
type LLMConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"`
	MaxTokens         int     `koanf:"max_tokens"`
	Temperature       float64 `koanf:"temperature"`
	RequestsPerMinute int     `koanf:"requests_per_minute"`
	APIKey            Secret  `koanf:"-" json:"-"`
}

// TimeoutConfig bounds the three nested units of pipeline work.
type TimeoutConfig struct {
	LLM   Duration `koanf:"llm"`
	Task  Duration `koanf:"task"`
	Phase Duration `koanf:"phase"`
}

// TestConfig controls how the test collaborator runs the project suite.
type TestConfig struct {
	Command string `koanf:"command"`
}

// RedactConfig controls secret scrubbing of LLM-bound content.
// Redaction is on unless explicitly disabled.
type RedactConfig struct {
	Disabled      bool   `koanf:"disabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// NewDefaultConfig returns a fully defaulted configuration.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values across every section.
func (c *Config) ApplyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.Model = "claude-3-5-sonnet-20241022"
		default:
			c.LLM.Model = "gpt-4o"
		}
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.RequestsPerMinute == 0 {
		c.LLM.RequestsPerMinute = 60
	}

	c.Quality.ApplyDefaults()
	c.Breaker.ApplyDefaults()
	c.Checkpoint.ApplyDefaults()

	if c.Timeouts.LLM == 0 {
		c.Timeouts.LLM = Duration(2 * time.Minute)
	}
	if c.Timeouts.Task == 0 {
		c.Timeouts.Task = Duration(10 * time.Minute)
	}
	if c.Timeouts.Phase == 0 {
		c.Timeouts.Phase = Duration(30 * time.Minute)
	}

	if c.Tests.Command == "" {
		c.Tests.Command = "go test ./..."
	}

	logDef := logging.NewDefaultConfig()
	if c.Logging.Format == "" {
		c.Logging.Format = logDef.Format
	}
	if !c.Logging.Output.Stdout && !c.Logging.Output.OTEL {
		c.Logging.Output = logDef.Output
	}
	if c.Logging.Stacktrace.Level == 0 {
		c.Logging.Stacktrace.Level = logDef.Stacktrace.Level
	}
	if c.Logging.Fields == nil {
		c.Logging.Fields = logDef.Fields
	}

	telDef := telemetry.NewDefaultConfig()
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = telDef.Endpoint
		c.Telemetry.Insecure = telDef.Insecure
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = telDef.Protocol
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = telDef.ServiceName
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = telDef.ServiceVersion
	}
	if c.Telemetry.Sampling.Rate == 0 {
		c.Telemetry.Sampling = telDef.Sampling
	}
	if c.Telemetry.Metrics.ExportInterval == 0 {
		c.Telemetry.Metrics.ExportInterval = telDef.Metrics.ExportInterval
	}
	if c.Telemetry.Shutdown.Timeout == 0 {
		c.Telemetry.Shutdown.Timeout = telDef.Shutdown.Timeout
	}

	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8700
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate checks the configuration tree for errors.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider %q (supported: %s, %s)",
			c.LLM.Provider, ProviderOpenAI, ProviderAnthropic)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature)
	}
	if c.LLM.RequestsPerMinute < 1 {
		return fmt.Errorf("llm.requests_per_minute must be positive, got %d", c.LLM.RequestsPerMinute)
	}

	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	if c.Timeouts.LLM.Duration() <= 0 {
		return errors.New("timeouts.llm must be positive")
	}
	if c.Timeouts.Task.Duration() <= 0 {
		return errors.New("timeouts.task must be positive")
	}
	if c.Timeouts.Phase.Duration() <= 0 {
		return errors.New("timeouts.phase must be positive")
	}

	if c.Tests.Command == "" {
		return errors.New("tests.command cannot be empty")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	return nil
}
