package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/coco/internal/config"
	"github.com/fyrsmithlabs/coco/internal/logging"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	// httpTimeout is a backstop only; callers bound individual requests
	// with context deadlines.
	httpTimeout = 5 * time.Minute

	// defaultBurst allows short bursts above the per-minute rate.
	defaultBurst = 5
)

// anthropicClient talks to the Anthropic Messages API directly. It does not
// retry: failures surface to the caller's breaker.
type anthropicClient struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logging.Logger
}

func newAnthropicClient(cfg config.LLMConfig, logger *logging.Logger) (*anthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: set COCO_LLM_API_KEY or ANTHROPIC_API_KEY", ErrMissingAPIKey)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &anthropicClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey.Value(),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: httpTimeout},
		limiter:     newLimiter(cfg.RequestsPerMinute),
		logger:      logger.Named("llm.anthropic"),
	}, nil
}

func (a *anthropicClient) Provider() string {
	return config.ProviderAnthropic
}

func (a *anthropicClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	return a.ChatWithTools(ctx, messages, nil)
}

func (a *anthropicClient) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef) (*Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}
	// The Messages API takes system instructions as a top-level field.
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return a.doRequest(ctx, req)
}

func (a *anthropicClient) doRequest(ctx context.Context, req anthropicRequest) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("%w: status %d: %s", ErrAPIFailure, resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrAPIFailure, resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := &Response{
		Usage: Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	out.Content = strings.Join(text, "")

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	a.logger.Debug(ctx, "anthropic chat completed",
		zap.String("model", apiResp.Model),
		zap.String("stop_reason", apiResp.StopReason),
		zap.Int("total_tokens", out.Usage.TotalTokens),
	)
	return out, nil
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicResponse is the Messages API response body. Text and tool_use
// blocks are the only content types coco consumes.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// newLimiter converts a requests-per-minute budget into a token bucket with
// a small burst allowance.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), defaultBurst)
}
