package oracle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/llm"
	"github.com/Nyukimin/relayclaw/internal/domain/news"
)

// Options はオラクルの設定
type Options struct {
	Agent          conversation.AgentProfile
	Platform       string
	MaxRepostChars int
	HistoryTurns   int
}

// LLMOracle はLLMプロバイダーを使った返信生成・新規性判定・転載用変換
type LLMOracle struct {
	provider llm.LLMProvider
	opts     Options
	logger   zerolog.Logger
}

// NewLLMOracle は新しいLLMOracleを作成
func NewLLMOracle(provider llm.LLMProvider, opts Options, logger zerolog.Logger) *LLMOracle {
	if opts.Agent.Language == "" {
		opts.Agent.Language = "French"
	}
	if opts.Platform == "" {
		opts.Platform = "Telegram"
	}
	if opts.MaxRepostChars <= 0 {
		opts.MaxRepostChars = 400
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 20
	}
	return &LLMOracle{
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "oracle").Str("provider", provider.Name()).Logger(),
	}
}

type turn struct {
	Speaker string
	Text    string
}

type replyData struct {
	Agent    conversation.AgentProfile
	Platform string
	Room     string
	History  []turn
	Sender   string
	Current  string
}

// GenerateReply は会話状態から返信を生成する。使える内容がなければ nil を返す
func (o *LLMOracle) GenerateReply(ctx context.Context, state *conversation.State) (*conversation.Content, error) {
	agent := o.mergeAgent(state.Agent())

	data := replyData{
		Agent:    agent,
		Platform: o.opts.Platform,
		Room:     state.RoomTitle(),
		Sender:   state.SenderName(),
		Current:  state.Current().Content.Text,
	}
	if data.Sender == "" {
		data.Sender = "User"
	}
	for _, r := range state.GetRecentHistory(o.opts.HistoryTurns) {
		speaker := "User"
		if state.IsFromAgent(r) {
			speaker = agent.Name
		}
		data.History = append(data.History, turn{Speaker: speaker, Text: r.Content.Text})
	}

	prompt, err := render(replyTemplate, data)
	if err != nil {
		return nil, fmt.Errorf("render reply prompt: %w", err)
	}

	raw, err := o.complete(ctx, "reply", prompt, 800, 0.7)
	if err != nil {
		return nil, err
	}
	return parseReply(raw), nil
}

type newsData struct {
	Agent    conversation.AgentProfile
	Platform string
	Channel  string
	News     string
	History  []string
	Language string
	MaxChars int
}

func (o *LLMOracle) newsData(c news.Candidate) newsData {
	agent := o.mergeAgent(conversation.AgentProfile{})
	return newsData{
		Agent:    agent,
		Platform: o.opts.Platform,
		Channel:  c.Channel.DisplayName,
		News:     c.NormalizedText(),
		Language: agent.Language,
		MaxChars: o.opts.MaxRepostChars,
	}
}

// ClassifyNovelty は候補が処理済みニュースの一覧に含まれるかを判定する
// 判定できない出力は ErrAmbiguousVerdict を返す
func (o *LLMOracle) ClassifyNovelty(ctx context.Context, c news.Candidate, history []string) (news.NoveltyVerdict, error) {
	data := o.newsData(c)
	data.History = history

	prompt, err := render(noveltyTemplate, data)
	if err != nil {
		return news.NoveltyVerdict{}, fmt.Errorf("render novelty prompt: %w", err)
	}

	raw, err := o.complete(ctx, "classify", prompt, 120, 0.0)
	if err != nil {
		return news.NoveltyVerdict{}, err
	}
	return parseNovelty(raw)
}

// TransformForRepost は候補を転載用テキストに変換する
func (o *LLMOracle) TransformForRepost(ctx context.Context, c news.Candidate) (news.TransformOutcome, error) {
	prompt, err := render(repostTemplate, o.newsData(c))
	if err != nil {
		return news.TransformOutcome{}, fmt.Errorf("render repost prompt: %w", err)
	}

	raw, err := o.complete(ctx, "transform", prompt, 600, 0.5)
	if err != nil {
		return news.TransformOutcome{}, err
	}
	return parseTransform(raw), nil
}

// QualifyNews は候補がニュースかどうかを判定する
func (o *LLMOracle) QualifyNews(ctx context.Context, c news.Candidate) (bool, string, error) {
	prompt, err := render(qualifyTemplate, o.newsData(c))
	if err != nil {
		return false, "", fmt.Errorf("render qualify prompt: %w", err)
	}

	raw, err := o.complete(ctx, "qualify", prompt, 120, 0.0)
	if err != nil {
		return false, "", err
	}
	return parseBoolVerdict(raw)
}

func (o *LLMOracle) complete(ctx context.Context, op, prompt string, maxTokens int, temperature float64) (string, error) {
	resp, err := o.provider.Generate(ctx, llm.UserPrompt(prompt, maxTokens, temperature))
	if err != nil {
		return "", fmt.Errorf("%s via %s: %w", op, o.provider.Name(), err)
	}

	o.logger.Debug().
		Str("op", op).
		Int("prompt_chars", len(prompt)).
		Int("response_chars", len(resp.Content)).
		Int("tokens", resp.TokensUsed).
		Msg("oracle call")
	return resp.Content, nil
}

// mergeAgent は設定済みのプロフィールで空の項目を補う
func (o *LLMOracle) mergeAgent(a conversation.AgentProfile) conversation.AgentProfile {
	base := o.opts.Agent
	if a.Name != "" {
		base.Name = a.Name
	}
	if a.Username != "" {
		base.Username = a.Username
	}
	if len(a.Bio) > 0 {
		base.Bio = a.Bio
	}
	if len(a.Lore) > 0 {
		base.Lore = a.Lore
	}
	if a.Language != "" {
		base.Language = a.Language
	}
	base.Username = base.Handle()
	return base
}
