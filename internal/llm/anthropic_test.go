package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/coco/internal/config"
)

func anthropicTestConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:          config.ProviderAnthropic,
		Model:             "claude-3-5-sonnet-20241022",
		BaseURL:           baseURL,
		MaxTokens:         1024,
		Temperature:       0.2,
		RequestsPerMinute: 600,
		APIKey:            config.Secret("sk-ant-test123"),
	}
}

func TestNewAnthropicClient(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		client, err := newAnthropicClient(anthropicTestConfig(""), nil)
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.Equal(t, config.ProviderAnthropic, client.Provider())
		assert.Equal(t, defaultAnthropicBaseURL, client.baseURL)
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := anthropicTestConfig("")
		cfg.APIKey = ""
		_, err := newAnthropicClient(cfg, nil)
		require.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("custom base URL trailing slash trimmed", func(t *testing.T) {
		client, err := newAnthropicClient(anthropicTestConfig("http://localhost:9999/"), nil)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999", client.baseURL)
	})
}

func TestAnthropicClient_Chat(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test123", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"content": [
				{"type": "text", "text": "All tests "},
				{"type": "text", "text": "pass."}
			],
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 42, "output_tokens": 7}
		}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(anthropicTestConfig(server.URL), nil)
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are a code reviewer."},
		{Role: RoleUser, Content: "Review this diff."},
		{Role: RoleAssistant, Content: "Looking."},
		{Role: RoleUser, Content: "And the tests?"},
	})
	require.NoError(t, err)

	// System turns move into the top-level field.
	assert.Equal(t, "You are a code reviewer.", gotReq.System)
	require.Len(t, gotReq.Messages, 3)
	assert.Equal(t, RoleUser, gotReq.Messages[0].Role)
	assert.Equal(t, RoleAssistant, gotReq.Messages[1].Role)
	assert.Equal(t, "claude-3-5-sonnet-20241022", gotReq.Model)
	assert.Equal(t, 1024, gotReq.MaxTokens)
	assert.InDelta(t, 0.2, gotReq.Temperature, 1e-9)
	assert.Empty(t, gotReq.Tools)

	assert.Equal(t, "All tests pass.", resp.Content)
	assert.Equal(t, 42, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, 49, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestAnthropicClient_ChatWithTools(t *testing.T) {
	var gotReq anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_456",
			"type": "message",
			"role": "assistant",
			"content": [
				{"type": "tool_use", "id": "toolu_01", "name": "emit_review", "input": {"score": 88}}
			],
			"model": "claude-3-5-sonnet-20241022",
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(anthropicTestConfig(server.URL), nil)
	require.NoError(t, err)

	tools := []ToolDef{{
		Name:        "emit_review",
		Description: "Emit a structured review",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"score": map[string]any{"type": "number"},
			},
		},
	}}
	resp, err := client.ChatWithTools(context.Background(), []Message{{Role: RoleUser, Content: "Score it."}}, tools)
	require.NoError(t, err)

	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "emit_review", gotReq.Tools[0].Name)
	assert.Contains(t, gotReq.Tools[0].InputSchema, "properties")

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, "emit_review", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"score": 88}`, resp.ToolCalls[0].Arguments)
	assert.Empty(t, resp.Content)
}

func TestAnthropicClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{
			"type": "error",
			"error": {"type": "authentication_error", "message": "Invalid API key"}
		}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(anthropicTestConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrAPIFailure)
	assert.Contains(t, err.Error(), "Invalid API key")
	assert.Contains(t, err.Error(), "401")
}

func TestAnthropicClient_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_789",
			"type": "message",
			"role": "assistant",
			"content": [],
			"model": "claude-3-5-sonnet-20241022",
			"usage": {"input_tokens": 1, "output_tokens": 0}
		}`))
	}))
	defer server.Close()

	client, err := newAnthropicClient(anthropicTestConfig(server.URL), nil)
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrEmptyResponse)
}
