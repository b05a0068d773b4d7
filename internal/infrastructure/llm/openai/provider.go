package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Nyukimin/relayclaw/internal/domain/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider はOpenAI互換Chat Completions APIプロバイダーの実装
type OpenAIProvider struct {
	vendor  string
	apiKey  string
	model   string
	baseURL string
	client  sdk.Client
}

// NewOpenAIProvider は新しいOpenAIProviderを作成
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return NewCompatibleProvider("openai", apiKey, model, defaultBaseURL)
}

// NewCompatibleProvider はOpenAI互換APIを持つベンダー用のプロバイダーを作成
func NewCompatibleProvider(vendor, apiKey, model, baseURL string) *OpenAIProvider {
	p := &OpenAIProvider{
		vendor: vendor,
		apiKey: apiKey,
		model:  model,
	}
	p.SetBaseURL(baseURL)
	return p
}

// SetBaseURL はベースURLを設定（テスト用）
func (p *OpenAIProvider) SetBaseURL(url string) {
	p.baseURL = strings.TrimRight(url, "/")
	p.client = sdk.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL+"/"),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		// 再試行は呼び出し側のタイムアウトに任せる
		option.WithMaxRetries(0),
	)
}

// Generate はLLM生成を実行
func (p *OpenAIProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(p.model),
		Messages: convertMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.GenerateResponse{}, fmt.Errorf("%s API error: %w", p.vendor, err)
	}
	if len(resp.Choices) == 0 {
		return llm.GenerateResponse{}, fmt.Errorf("%s: %w", p.vendor, llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return llm.GenerateResponse{
		Content:      choice.Message.Content,
		TokensUsed:   int(resp.Usage.TotalTokens),
		FinishReason: string(choice.FinishReason),
	}, nil
}

// Name はプロバイダー名を返す
func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("%s-%s", p.vendor, p.model)
}

// convertMessages はシステムプロンプトを先頭に置いたメッセージ列に変換
func convertMessages(req llm.GenerateRequest) []sdk.ChatCompletionMessageParamUnion {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, sdk.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(msg.Content))
		default:
			messages = append(messages, sdk.UserMessage(msg.Content))
		}
	}
	return messages
}
