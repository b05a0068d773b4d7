package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/adapter/config"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCorrelateCommand(t *testing.T) {
	out, err := execute(t, "correlate", "tg-user", "42")
	require.NoError(t, err)
	assert.Equal(t, identity.MustCorrelate("tg-user", "42").String(), strings.TrimSpace(out))

	again, err := execute(t, "correlate", "tg-user", "42")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestCorrelateCommand_Args(t *testing.T) {
	_, err := execute(t, "correlate", "tg-user")
	assert.Error(t, err)
}

func TestServe_MissingConfig(t *testing.T) {
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestBuildLLMProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{"ollama", "ollama-chat-v1"},
		{"claude", "claude-claude-sonnet-4-20250514"},
		{"deepseek", "deepseek-deepseek-chat"},
		{"openai", "openai-gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := &config.Config{
				LLM:      config.LLMConfig{Provider: tt.provider},
				Ollama:   config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "chat-v1"},
				Claude:   config.ClaudeConfig{APIKey: "k", Model: "claude-sonnet-4-20250514"},
				DeepSeek: config.DeepSeekConfig{APIKey: "k", Model: "deepseek-chat"},
				OpenAI:   config.OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini", BaseURL: "http://localhost:8000/v1"},
			}
			p, err := buildLLMProvider(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}

	_, err := buildLLMProvider(&config.Config{LLM: config.LLMConfig{Provider: "gemini"}})
	assert.Error(t, err)
}

func TestOpenRecordStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, driver := range []string{"memory", "jsonl", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			store, pinger, closeFn, err := openRecordStore(ctx, config.StoreConfig{
				Driver: driver,
				Path:   filepath.Join(dir, driver+".db"),
			})
			require.NoError(t, err)
			defer closeFn()
			assert.NotNil(t, store)
			if driver == "sqlite" {
				require.NotNil(t, pinger)
				assert.NoError(t, pinger.Ping(ctx))
			}
		})
	}

	_, _, _, err := openRecordStore(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestBuildTransport_UnknownPlatform(t *testing.T) {
	_, err := buildTransport(&config.Config{Platform: "line"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestPlatformTitle(t *testing.T) {
	assert.Equal(t, "Telegram", platformTitle("telegram"))
	assert.Equal(t, "Slack", platformTitle("slack"))
	assert.Equal(t, "", platformTitle(""))
}
