package llm

import (
	"context"
	"errors"
)

// メッセージのロール
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message はLLMメッセージを表す
type Message struct {
	Role    string
	Content string
}

// UserPrompt は単一のユーザーメッセージからなるリクエストを作成
func UserPrompt(prompt string, maxTokens int, temperature float64) GenerateRequest {
	return GenerateRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// GenerateRequest はLLM生成リクエスト
type GenerateRequest struct {
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
}

// GenerateResponse はLLM生成レスポンス
type GenerateResponse struct {
	Content      string
	TokensUsed   int
	FinishReason string
}

// ErrEmptyResponse はプロバイダーが本文を返さなかった場合のエラー
var ErrEmptyResponse = errors.New("llm returned no content")

// LLMProvider はLLMプロバイダーの抽象化
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Name() string
}
