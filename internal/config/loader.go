package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultFileName is the config file looked up at the project root.
	DefaultFileName = "coco.yaml"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads configuration for the given project.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (COCO_LLM_MODEL, COCO_QUALITY_MIN_SCORE, ...)
//  2. YAML config file (coco.yaml at the project root, or configPath)
//  3. Defaults
//
// A missing config file is not an error; defaults plus environment apply.
//
// Environment variables use the COCO_ prefix with a SECTION_FIELD layout:
//
//	COCO_LLM_MODEL            -> llm.model
//	COCO_QUALITY_MIN_SCORE    -> quality.min_score
//	COCO_TIMEOUTS_TASK        -> timeouts.task
//
// API keys are accepted only from the environment (COCO_LLM_API_KEY, or the
// provider-conventional OPENAI_API_KEY / ANTHROPIC_API_KEY). An llm.api_key
// entry in the YAML file is rejected so secrets never live in the repo.
func Load(configPath, projectPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = filepath.Join(projectPath, DefaultFileName)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// check-then-read race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}

		if k.Exists("llm.api_key") {
			return nil, fmt.Errorf("llm.api_key must not be set in %s; use COCO_LLM_API_KEY", configPath)
		}
	}

	// Override with environment variables.
	// COCO_SECTION_FIELD_NAME -> section.field_name: split on the first
	// underscore after the prefix, keep underscores inside the field name.
	if err := k.Load(env.Provider("COCO_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "COCO_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	resolveAPIKey(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// resolveAPIKey pulls the LLM API key from the environment. COCO_LLM_API_KEY
// wins; the provider-conventional variable is the fallback.
func resolveAPIKey(cfg *Config) {
	if v := os.Getenv("COCO_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = Secret(v)
		return
	}
	switch cfg.LLM.Provider {
	case ProviderAnthropic:
		cfg.LLM.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	default:
		cfg.LLM.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
}

// validateConfigFileProperties checks the file is a regular file within the
// size cap. Runs on the FileInfo of an already-opened descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config file is not a regular file: %s", info.Mode())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
