package deepseek

import (
	"github.com/Nyukimin/relayclaw/internal/infrastructure/llm/openai"
)

const defaultBaseURL = "https://api.deepseek.com"

// NewDeepSeekProvider は新しいDeepSeekプロバイダーを作成
// DeepSeek APIはOpenAI互換のため、OpenAIProviderをベースURLだけ変えて使う
func NewDeepSeekProvider(apiKey, model string) *openai.OpenAIProvider {
	if model == "" {
		model = "deepseek-chat"
	}
	return openai.NewCompatibleProvider("deepseek", apiKey, model, defaultBaseURL)
}
