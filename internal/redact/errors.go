// Package redact scrubs secrets from LLM-bound content using the Gitleaks SDK.
package redact

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
