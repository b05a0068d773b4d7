package claude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Nyukimin/relayclaw/internal/domain/llm"
)

const defaultBaseURL = "https://api.anthropic.com"

// defaultMaxTokens はMaxTokens未指定時の上限（Messages APIでは必須）
const defaultMaxTokens = 1024

// ClaudeProvider はClaude APIプロバイダーの実装
type ClaudeProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  anthropic.Client
}

// NewClaudeProvider は新しいClaudeProviderを作成
func NewClaudeProvider(apiKey, model string) *ClaudeProvider {
	p := &ClaudeProvider{apiKey: apiKey, model: model}
	p.SetBaseURL(defaultBaseURL)
	return p
}

// SetBaseURL はベースURLを設定（テスト用）
func (p *ClaudeProvider) SetBaseURL(url string) {
	p.baseURL = strings.TrimRight(url, "/")
	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL+"/"),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
		option.WithMaxRetries(0),
	)
}

// Generate はLLM生成を実行
func (p *ClaudeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}

	// Claude APIはsystemロールを持たないため、systemはトップレベルで渡す
	if system := systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.GenerateResponse{}, fmt.Errorf("claude API error: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return llm.GenerateResponse{}, fmt.Errorf("claude: %w", llm.ErrEmptyResponse)
	}

	return llm.GenerateResponse{
		Content:      content.String(),
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
	}, nil
}

// Name はプロバイダー名を返す
func (p *ClaudeProvider) Name() string {
	return fmt.Sprintf("claude-%s", p.model)
}

func systemPrompt(req llm.GenerateRequest) string {
	parts := make([]string, 0, 1)
	if req.SystemPrompt != "" {
		parts = append(parts, req.SystemPrompt)
	}
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// convertMessages はドメインメッセージをClaude APIフォーマットに変換
func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}
