package llm

import "errors"

var (
	// ErrMissingAPIKey indicates the provider requires an API key and none
	// was resolved from the environment.
	ErrMissingAPIKey = errors.New("API key required")

	// ErrUnsupportedProvider indicates the configured provider name is not
	// one the factory knows how to build.
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")

	// ErrEmptyResponse indicates the provider returned a 2xx response with
	// no usable content.
	ErrEmptyResponse = errors.New("empty response from LLM")

	// ErrAPIFailure indicates a non-2xx response from the provider. It wraps
	// the status and message so the breaker counts it like any other failure.
	ErrAPIFailure = errors.New("LLM API failure")
)
