package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath は設定ファイルのパスを指定する環境変数
const EnvConfigPath = "RELAYCLAW_CONFIG"

// DefaultConfigPath は設定ファイルのデフォルトパス
const DefaultConfigPath = "config.yaml"

// 対応プラットフォーム
const (
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
	PlatformSlack    = "slack"
)

// Config はアプリケーション全体の設定
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"RELAYCLAW_SERVER_"`
	Agent    AgentConfig    `yaml:"agent" envPrefix:"RELAYCLAW_AGENT_"`
	Platform string         `yaml:"platform" env:"RELAYCLAW_PLATFORM"`
	Telegram TelegramConfig `yaml:"telegram" envPrefix:"RELAYCLAW_TELEGRAM_"`
	Discord  DiscordConfig  `yaml:"discord" envPrefix:"RELAYCLAW_DISCORD_"`
	Slack    SlackConfig    `yaml:"slack" envPrefix:"RELAYCLAW_SLACK_"`
	LLM      LLMConfig      `yaml:"llm" envPrefix:"RELAYCLAW_LLM_"`
	Ollama   OllamaConfig   `yaml:"ollama" envPrefix:"RELAYCLAW_OLLAMA_"`
	Claude   ClaudeConfig   `yaml:"claude" envPrefix:"RELAYCLAW_CLAUDE_"`
	DeepSeek DeepSeekConfig `yaml:"deepseek" envPrefix:"RELAYCLAW_DEEPSEEK_"`
	OpenAI   OpenAIConfig   `yaml:"openai" envPrefix:"RELAYCLAW_OPENAI_"`
	Reply    ReplyConfig    `yaml:"reply" envPrefix:"RELAYCLAW_REPLY_"`
	News     NewsConfig     `yaml:"news" envPrefix:"RELAYCLAW_NEWS_"`
	Store    StoreConfig    `yaml:"store" envPrefix:"RELAYCLAW_STORE_"`
	State    StateConfig    `yaml:"state" envPrefix:"RELAYCLAW_STATE_"`
	Events   EventsConfig   `yaml:"events" envPrefix:"RELAYCLAW_EVENTS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"RELAYCLAW_LOG_"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Host string `yaml:"host" env:"HOST"`
}

// Addr はlisten用のアドレスを返す
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AgentConfig はエージェントのプロフィール
type AgentConfig struct {
	Name     string   `yaml:"name" env:"NAME"`
	Username string   `yaml:"username" env:"USERNAME"`
	Bio      []string `yaml:"bio"`
	Lore     []string `yaml:"lore"`
	Language string   `yaml:"language" env:"LANGUAGE"`
}

// TelegramConfig はTelegram Bot API設定
type TelegramConfig struct {
	Token       string   `yaml:"token" env:"TOKEN"` // 環境変数から読み込み推奨
	HistorySize int      `yaml:"history_size" env:"HISTORY_SIZE"`
	MarkdownV2  bool     `yaml:"markdown_v2" env:"MARKDOWN_V2"`
	Chats       []string `yaml:"chats" env:"CHATS" envSeparator:","` // 起動時に解決するチャット（ID または @username）
}

// DiscordConfig はDiscord設定
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
}

// SlackConfig はSlack（Socket Mode）設定
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"APP_TOKEN"`
}

// LLMConfig はオラクルに使うプロバイダーの選択
type LLMConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
}

// OllamaConfig はOllama設定
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// ClaudeConfig はClaude API設定
type ClaudeConfig struct {
	APIKey string `yaml:"api_key"` // 環境変数から読み込み推奨
	Model  string `yaml:"model" env:"MODEL"`
}

// DeepSeekConfig はDeepSeek API設定
type DeepSeekConfig struct {
	APIKey string `yaml:"api_key"` // 環境変数から読み込み推奨
	Model  string `yaml:"model" env:"MODEL"`
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"` // 環境変数から読み込み推奨
	Model   string `yaml:"model" env:"MODEL"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// ReplyConfig は返信パイプライン設定
type ReplyConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	HistoryLimit   int           `yaml:"history_limit" env:"HISTORY_LIMIT"`
	OracleTimeout  time.Duration `yaml:"oracle_timeout" env:"ORACLE_TIMEOUT"`
	MaxChunkLength int           `yaml:"max_chunk_length" env:"MAX_CHUNK_LENGTH"`
	SendsPerSecond float64       `yaml:"sends_per_second" env:"SENDS_PER_SECOND"`
}

// NewsConfig はニュース重複排除エンジン設定
type NewsConfig struct {
	Enabled              bool          `yaml:"enabled" env:"ENABLED"`
	TargetChannel        string        `yaml:"target_channel" env:"TARGET_CHANNEL"`
	SourceChannels       []string      `yaml:"source_channels" env:"SOURCE_CHANNELS" envSeparator:","`
	Interval             time.Duration `yaml:"interval" env:"INTERVAL"`
	HistoryWindow        time.Duration `yaml:"history_window" env:"HISTORY_WINDOW"`
	HistoryLimit         int           `yaml:"history_limit" env:"HISTORY_LIMIT"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches" env:"MAX_CONCURRENT_FETCHES"`
	OracleTimeout        time.Duration `yaml:"oracle_timeout" env:"ORACLE_TIMEOUT"`
	ActiveSchedule       string        `yaml:"active_schedule" env:"ACTIVE_SCHEDULE"`
	RequireNewsCheck     bool          `yaml:"require_news_check" env:"REQUIRE_NEWS_CHECK"`
	MaxRepostChars       int           `yaml:"max_repost_chars" env:"MAX_REPOST_CHARS"`
}

// StoreConfig は会話レコードの保存先
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // memory, jsonl, sqlite, postgres
	Path   string `yaml:"path" env:"PATH"`
	URL    string `yaml:"url" env:"URL"`
}

// StateConfig は既読IDの保存先
type StateConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // none, redis
	URL    string `yaml:"url" env:"URL"`
}

// EventsConfig はAMQPイベント送信設定
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	URL      string `yaml:"url" env:"URL"`
	Exchange string `yaml:"exchange" env:"EXCHANGE"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ResolvePath は --config、RELAYCLAW_CONFIG、デフォルトの順でパスを決める
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadDotEnv はカレントディレクトリの .env を読み込む（なければ何もしない）
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// LoadConfig は設定ファイルを読み込む
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults はデフォルト値を設定
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	if c.Platform == "" {
		c.Platform = PlatformTelegram
	}
	if c.Agent.Language == "" {
		c.Agent.Language = "French"
	}
	if c.Telegram.HistorySize == 0 {
		c.Telegram.HistorySize = 200
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = "chat-v1"
	}
	if c.Claude.Model == "" {
		c.Claude.Model = "claude-sonnet-4-20250514"
	}
	if c.DeepSeek.Model == "" {
		c.DeepSeek.Model = "deepseek-chat"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}

	if c.Reply.HistoryLimit == 0 {
		c.Reply.HistoryLimit = 20
	}
	if c.Reply.OracleTimeout == 0 {
		c.Reply.OracleTimeout = 60 * time.Second
	}
	if c.Reply.MaxChunkLength == 0 {
		c.Reply.MaxChunkLength = 4096
	}

	if c.News.Interval == 0 {
		c.News.Interval = 5 * time.Second
	}
	if c.News.HistoryWindow == 0 {
		c.News.HistoryWindow = 24 * time.Hour
	}
	if c.News.HistoryLimit == 0 {
		c.News.HistoryLimit = 100
	}
	if c.News.MaxConcurrentFetches == 0 {
		c.News.MaxConcurrentFetches = 4
	}
	if c.News.OracleTimeout == 0 {
		c.News.OracleTimeout = 60 * time.Second
	}
	if c.News.MaxRepostChars == 0 {
		c.News.MaxRepostChars = 400
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "jsonl"
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = "./data/relayclaw.db"
		default:
			c.Store.Path = "./data/records.jsonl"
		}
	}
	if c.State.Driver == "" {
		c.State.Driver = "none"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "relayclaw"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// loadFromEnv は環境変数から設定を読み込み
func (c *Config) loadFromEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	// API キーは環境変数から読み込み（ファイルに平文保存しない）
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		c.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		c.DeepSeek.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && c.Telegram.Token == "" {
		c.Telegram.Token = token
	}
	return nil
}

// Validate は設定の妥当性を検証
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	switch c.Platform {
	case PlatformTelegram:
		if c.Telegram.Token == "" {
			return fmt.Errorf("telegram token is required")
		}
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord token is required")
		}
	case PlatformSlack:
		if c.Slack.BotToken == "" || c.Slack.AppToken == "" {
			return fmt.Errorf("slack bot_token and app_token are required")
		}
	default:
		return fmt.Errorf("unknown platform: %q", c.Platform)
	}

	switch c.LLM.Provider {
	case "ollama":
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama base_url is required")
		}
	case "claude":
		if c.Claude.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for llm provider claude")
		}
	case "deepseek":
		if c.DeepSeek.APIKey == "" {
			return fmt.Errorf("DEEPSEEK_API_KEY is required for llm provider deepseek")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for llm provider openai")
		}
	default:
		return fmt.Errorf("unknown llm provider: %q", c.LLM.Provider)
	}

	if !c.Reply.Enabled && !c.News.Enabled {
		return fmt.Errorf("at least one of reply.enabled or news.enabled must be true")
	}
	if c.Reply.SendsPerSecond < 0 {
		return fmt.Errorf("reply sends_per_second must not be negative")
	}

	if c.News.Enabled {
		if strings.TrimSpace(c.News.TargetChannel) == "" {
			return fmt.Errorf("news target_channel is required")
		}
		if len(c.News.SourceChannels) == 0 {
			return fmt.Errorf("news source_channels is required")
		}
		if c.News.ActiveSchedule != "" && !gronx.New().IsValid(c.News.ActiveSchedule) {
			return fmt.Errorf("invalid news active_schedule: %q", c.News.ActiveSchedule)
		}
	}

	switch c.Store.Driver {
	case "memory":
	case "jsonl", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for driver %s", c.Store.Driver)
		}
	case "postgres":
		if c.Store.URL == "" {
			return fmt.Errorf("store url is required for driver postgres")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	switch c.State.Driver {
	case "none":
	case "redis":
		if c.State.URL == "" {
			return fmt.Errorf("state url is required for driver redis")
		}
	default:
		return fmt.Errorf("unknown state driver: %q", c.State.Driver)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events url is required when events are enabled")
	}

	return nil
}

// Namespace はIDの名前空間に使うプラットフォーム接頭辞を返す
func (c *Config) Namespace() string {
	switch c.Platform {
	case PlatformDiscord:
		return "dc"
	case PlatformSlack:
		return "sl"
	default:
		return "tg"
	}
}
