package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/domain/llm"
)

func completion(content string, tokens int) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1677652288,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": tokens - 10,
			"total_tokens":      tokens,
		},
	}
}

func TestNewOpenAIProvider(t *testing.T) {
	provider := NewOpenAIProvider("test-api-key", "gpt-4o-mini")
	require.NotNil(t, provider)
	assert.Equal(t, "openai-gpt-4o-mini", provider.Name())

	compat := NewCompatibleProvider("deepseek", "k", "deepseek-chat", "https://api.deepseek.com")
	assert.Equal(t, "deepseek-deepseek-chat", compat.Name())
}

func TestOpenAIProviderGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.EqualValues(t, 1000, body["max_tokens"])
		assert.InDelta(t, 0.7, body["temperature"], 0.0001)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("Le BTC monte.", 30))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-api-key", "gpt-4o-mini")
	provider.SetBaseURL(server.URL)

	resp, err := provider.Generate(context.Background(), llm.UserPrompt("Bonjour", 1000, 0.7))
	require.NoError(t, err)
	assert.Equal(t, "Le BTC monte.", resp.Content)
	assert.Equal(t, 30, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOpenAIProviderGenerate_MessageOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		require.Len(t, body.Messages, 4)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "You are Relay", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Equal(t, "assistant", body.Messages[2].Role)
		assert.Equal(t, "user", body.Messages[3].Role)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion("ok", 15))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-api-key", "gpt-4o-mini")
	provider.SetBaseURL(server.URL + "/")

	_, err := provider.Generate(context.Background(), llm.GenerateRequest{
		SystemPrompt: "You are Relay",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "salut"},
			{Role: llm.RoleAssistant, Content: "Bonjour !"},
			{Role: llm.RoleUser, Content: "et l'ETH ?"},
		},
	})
	require.NoError(t, err)
}

func TestOpenAIProviderGenerate_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[],"usage":{"total_tokens":0}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-api-key", "gpt-4o-mini")
	provider.SetBaseURL(server.URL)

	_, err := provider.Generate(context.Background(), llm.UserPrompt("x", 10, 0))
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestOpenAIProviderGenerate_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit exceeded","type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("test-api-key", "gpt-4o-mini")
	provider.SetBaseURL(server.URL)

	_, err := provider.Generate(context.Background(), llm.UserPrompt("x", 10, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai API error")
	assert.Equal(t, int32(1), calls.Load())
}
