package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Nyukimin/relayclaw/internal/adapter/config"
	"github.com/Nyukimin/relayclaw/internal/adapter/discord"
	"github.com/Nyukimin/relayclaw/internal/adapter/httpapi"
	"github.com/Nyukimin/relayclaw/internal/adapter/slack"
	"github.com/Nyukimin/relayclaw/internal/adapter/telegram"
	"github.com/Nyukimin/relayclaw/internal/application/dispatch"
	"github.com/Nyukimin/relayclaw/internal/application/news"
	"github.com/Nyukimin/relayclaw/internal/application/reply"
	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/Nyukimin/relayclaw/internal/domain/llm"
	newsdomain "github.com/Nyukimin/relayclaw/internal/domain/news"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/events"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/llm/claude"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/llm/deepseek"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/llm/ollama"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/llm/openai"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/oracle"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/persistence/record"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/persistence/watchstate"
)

// platformClient は送受信の両方を行うトランスポート
type platformClient interface {
	transport.Client
	Listen(ctx context.Context, handle func(context.Context, conversation.InboundEvent)) error
}

// Dependencies はアプリケーション依存関係
type Dependencies struct {
	client   platformClient
	self     transport.Account
	agentID  identity.CorrelationID
	pipeline *reply.Pipeline
	engine   *news.Engine
	server   *httpapi.Server
	closers  []func()
}

// Close は開いたリソースを逆順に閉じる
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDependencies は依存関係を構築
func buildDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *Dependencies, err error) {
	deps := &Dependencies{}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	// 1. LLM Provider
	provider, err := buildLLMProvider(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("provider", provider.Name()).Msg("llm provider selected")

	// 2. Transport
	client, err := buildTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	self, err := client.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", client.Platform(), err)
	}
	agentID, err := identity.Correlate(identity.Namespace(cfg.Namespace(), identity.KindUser), self.Ref)
	if err != nil {
		return nil, fmt.Errorf("derive agent id: %w", err)
	}
	deps.client, deps.self, deps.agentID = client, self, agentID
	logger.Info().Str("account", self.Username).Str("ref", self.Ref).Msg("connected")

	var checks []httpapi.Check

	// 3. Record Store
	store, pinger, closeStore, err := openRecordStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, closeStore)
	if pinger != nil {
		checks = append(checks, httpapi.Check{Name: "store", Fn: httpapi.PingCheck(pinger)})
	}

	// 4. Watch State
	var watchStore news.WatchStore = watchstate.NoopStore{}
	if cfg.State.Driver == "redis" {
		rs, err := watchstate.NewRedisStore(ctx, cfg.State.URL, agentID.String())
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = rs.Close() })
		checks = append(checks, httpapi.Check{Name: "state", Fn: httpapi.PingCheck(rs)})
		watchStore = rs
	}

	// 5. Events
	var evaluators []reply.Evaluator
	var sinks []news.OutcomeSink
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Exchange, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { _ = pub.Close() })
		evaluators = append(evaluators, pub)
		sinks = append(sinks, pub)
	}

	// 6. Oracle
	profile := conversation.AgentProfile{
		Name:     cfg.Agent.Name,
		Username: cfg.Agent.Username,
		Bio:      cfg.Agent.Bio,
		Lore:     cfg.Agent.Lore,
		Language: cfg.Agent.Language,
	}
	if profile.Name == "" {
		profile.Name = self.DisplayName()
	}
	if profile.Username == "" {
		profile.Username = self.Username
	}
	orc := oracle.NewLLMOracle(provider, oracle.Options{
		Agent:          profile,
		Platform:       platformTitle(cfg.Platform),
		MaxRepostChars: cfg.News.MaxRepostChars,
		HistoryTurns:   cfg.Reply.HistoryLimit,
	}, logger)

	// 7. Reply Pipeline
	if cfg.Reply.Enabled {
		var limiter *rate.Limiter
		if cfg.Reply.SendsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.Reply.SendsPerSecond), 1)
		}
		dispatcher := dispatch.NewDispatcher(client, dispatch.Options{
			MaxChunkLength: cfg.Reply.MaxChunkLength,
			MarkdownV2:     cfg.Platform == config.PlatformTelegram && cfg.Telegram.MarkdownV2,
			Limiter:        limiter,
		})
		deps.pipeline, err = reply.NewPipeline(reply.Config{
			Namespace:     cfg.Namespace(),
			Source:        cfg.Platform,
			Agent:         profile,
			HistoryLimit:  cfg.Reply.HistoryLimit,
			OracleTimeout: cfg.Reply.OracleTimeout,
		}, self, store, orc, client, dispatcher, evaluators, logger)
		if err != nil {
			return nil, err
		}
	}

	// 8. News Engine
	var watches httpapi.WatchSource = newsdomain.NewWatchState()
	if cfg.News.Enabled {
		var qualifier news.Qualifier
		if cfg.News.RequireNewsCheck {
			qualifier = orc
		}
		deps.engine, err = news.NewEngine(news.Config{
			Namespace:            cfg.Namespace(),
			TargetName:           cfg.News.TargetChannel,
			SourceNames:          cfg.News.SourceChannels,
			Interval:             cfg.News.Interval,
			HistoryWindow:        cfg.News.HistoryWindow,
			HistoryLimit:         cfg.News.HistoryLimit,
			MaxConcurrentFetches: cfg.News.MaxConcurrentFetches,
			OracleTimeout:        cfg.News.OracleTimeout,
			ActiveSchedule:       cfg.News.ActiveSchedule,
			RequireNewsCheck:     cfg.News.RequireNewsCheck,
			MaxMessageLength:     cfg.Reply.MaxChunkLength,
		}, agentID, news.Deps{
			Transport:   client,
			Store:       store,
			Classifier:  orc,
			Transformer: orc,
			Qualifier:   qualifier,
			WatchStore:  watchStore,
			Sinks:       sinks,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		watches = deps.engine
		checks = append(checks, httpapi.Check{Name: "news", Fn: httpapi.ReadyCheck(deps.engine.Ready, "news channels not resolved")})
	}

	// 9. HTTP
	if cfg.LLM.Provider == "ollama" {
		checks = append(checks, httpapi.Check{Name: "ollama", Fn: httpapi.OllamaCheck(cfg.Ollama.BaseURL, 2*time.Second)})
	}
	router := httpapi.NewRouter(logger, watches, checks)
	deps.server = httpapi.NewServer(cfg.Server.Addr(), router, logger)

	logger.Info().Int("checks", len(checks)).Msg("dependency injection complete")
	return deps, nil
}

// buildLLMProvider は設定に応じたLLMプロバイダーを作成
func buildLLMProvider(cfg *config.Config) (llm.LLMProvider, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return ollama.NewOllamaProvider(cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	case "claude":
		return claude.NewClaudeProvider(cfg.Claude.APIKey, cfg.Claude.Model), nil
	case "deepseek":
		return deepseek.NewDeepSeekProvider(cfg.DeepSeek.APIKey, cfg.DeepSeek.Model), nil
	case "openai":
		p := openai.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if cfg.OpenAI.BaseURL != "" {
			p.SetBaseURL(cfg.OpenAI.BaseURL)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildTransport は設定のプラットフォームに応じたクライアントを作成
func buildTransport(cfg *config.Config, logger zerolog.Logger) (platformClient, error) {
	switch cfg.Platform {
	case config.PlatformTelegram:
		return telegram.NewClient(cfg.Telegram.Token, telegram.Options{
			HistorySize: cfg.Telegram.HistorySize,
			Chats:       cfg.Telegram.Chats,
		}, logger)
	case config.PlatformDiscord:
		return discord.NewClient(cfg.Discord.Token, logger)
	case config.PlatformSlack:
		return slack.NewClient(cfg.Slack.BotToken, cfg.Slack.AppToken, logger), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

// openRecordStore は設定のドライバーで会話レコードの保存先を開く
func openRecordStore(ctx context.Context, cfg config.StoreConfig) (conversation.Store, httpapi.Pinger, func(), error) {
	switch cfg.Driver {
	case "memory":
		return record.NewMemoryStore(), nil, func() {}, nil
	case "jsonl":
		s, err := record.OpenJSONLStore(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { _ = s.Close() }, nil
	case "sqlite":
		s, err := record.OpenSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := record.NewPostgresStore(ctx, cfg.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func platformTitle(platform string) string {
	if platform == "" {
		return ""
	}
	return strings.ToUpper(platform[:1]) + platform[1:]
}
