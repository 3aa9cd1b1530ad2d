package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/logging"
)

// openAIClient wraps langchaingo's OpenAI model. A custom BaseURL points it
// at any OpenAI-compatible server (vLLM, Ollama, LM Studio).
type openAIClient struct {
	llm         *openai.LLM
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
	logger      *logging.Logger
}

func newOpenAIClient(cfg config.LLMConfig, logger *logging.Logger) (*openAIClient, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	apiKey := cfg.APIKey.Value()
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: set COCO_LLM_API_KEY or OPENAI_API_KEY", ErrMissingAPIKey)
		}
		// langchaingo requires a token; compatible local servers ignore it.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &openAIClient{
		llm:         model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     newLimiter(cfg.RequestsPerMinute),
		logger:      logger.Named("llm.openai"),
	}, nil
}

func (o *openAIClient) Provider() string {
	return config.ProviderOpenAI
}

func (o *openAIClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	return o.ChatWithTools(ctx, messages, nil)
}

func (o *openAIClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(o.maxTokens),
		llms.WithTemperature(o.temperature),
	}
	if len(tools) > 0 {
		fns := make([]llms.FunctionDefinition, 0, len(tools))
		for _, t := range tools {
			fns = append(fns, llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		opts = append(opts, llms.WithFunctions(fns))
	}

	resp, err := o.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	out, err := responseFromChoice(resp.Choices[0])
	if err != nil {
		return nil, err
	}

	o.logger.Debug(ctx, "openai chat completed",
		zap.String("stop_reason", resp.Choices[0].StopReason),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

// responseFromChoice converts a langchaingo content choice into the
// provider-independent Response. Function calls surface as ToolCalls.
func responseFromChoice(choice *llms.ContentChoice) (*Response, error) {
	out := &Response{
		Content: choice.Content,
		Usage:   usageFromInfo(choice.GenerationInfo),
	}
	if choice.FuncCall != nil {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Name:      choice.FuncCall.Name,
			Arguments: choice.FuncCall.Arguments,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return out, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// usageFromInfo extracts token counts from langchaingo's GenerationInfo map.
// Providers that do not report usage leave the map empty.
func usageFromInfo(info map[string]any) Usage {
	u := Usage{
		PromptTokens:     infoInt(info, "PromptTokens"),
		CompletionTokens: infoInt(info, "CompletionTokens"),
		TotalTokens:      infoInt(info, "TotalTokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func infoInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
