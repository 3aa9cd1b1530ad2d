package llm

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/logging"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for a single call. Zero values mean the
// provider did not report usage.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ToolDef describes a tool the model may call. Parameters is a JSON Schema
// object describing the tool's arguments.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the raw
// JSON-encoded argument object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the provider-independent result of a chat call.
type Response struct {
	Content   string     `json:"content"`
	Usage     Usage      `json:"usage"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Client is a chat-completion client. Implementations do not retry: every
// transport or API failure is returned so the caller's breaker can count it.
type Client interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// ChatWithTools sends the conversation along with tool definitions the
	// model may invoke in its reply.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error)

	// Provider returns the provider name ("openai", "anthropic").
	Provider() string
}

// New builds the Client selected by cfg.Provider.
func New(cfg config.LLMConfig, logger *logging.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return newOpenAIClient(cfg, logger)
	case config.ProviderAnthropic:
		return newAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
