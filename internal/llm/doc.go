// Package llm provides chat clients for the model providers coco can drive.
//
// The package exposes a small Client interface (Chat, ChatWithTools) with two
// implementations: an OpenAI-compatible client built on langchaingo and a
// direct Anthropic Messages API client. Both apply a client-side rate limit.
// Neither retries: transport and API failures surface to the caller so the
// circuit breaker can count them, and WithBreaker wraps any Client to
// fast-fail while the upstream is down.
//
// API keys reach this package only through config.LLMConfig, which resolves
// them from the environment.
package llm
