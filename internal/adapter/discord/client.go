package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// Platform はプラットフォーム名
const Platform = "discord"

// maxFetch はREST APIで一度に取得できるメッセージ数の上限
const maxFetch = 100

// Client はDiscordのtransport.Client実装
type Client struct {
	api    api
	logger zerolog.Logger

	mu   sync.RWMutex
	self transport.Account
}

// NewClient はボットトークンからDiscordクライアントを作成
func NewClient(token string, logger zerolog.Logger) (*Client, error) {
	a, err := newSessionAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newClient(a, logger), nil
}

func newClient(a api, logger zerolog.Logger) *Client {
	return &Client{api: a, logger: logger.With().Str("component", "discord").Logger()}
}

// Platform はプラットフォーム名を返す
func (c *Client) Platform() string {
	return Platform
}

// Connect はボット自身の情報を取得する
func (c *Client) Connect(ctx context.Context) (transport.Account, error) {
	me, err := c.api.Me(ctx)
	if err != nil {
		return transport.Account{}, fmt.Errorf("discord get current user: %w", err)
	}
	self := transport.Account{Ref: me.ID, Username: me.Username, FirstName: me.GlobalName}
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()
	return self, nil
}

// GetDialogs は参加中サーバーのテキスト・アナウンスチャンネルを返す
func (c *Client) GetDialogs(ctx context.Context) ([]transport.Dialog, error) {
	channels, err := c.api.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("discord list channels: %w", err)
	}
	out := make([]transport.Dialog, 0, len(channels))
	for _, ch := range channels {
		switch ch.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
			out = append(out, transport.Dialog{
				Ref:         ch.ID,
				DisplayName: ch.Name,
				IsChannel:   ch.Type == discordgo.ChannelTypeGuildNews,
			})
		}
	}
	return out, nil
}

// GetMessages は新しい順にメッセージを返す
func (c *Client) GetMessages(ctx context.Context, channelRef string, limit int) ([]transport.Message, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}
	msgs, err := c.api.Messages(ctx, channelRef, limit)
	if err != nil {
		return nil, fmt.Errorf("discord channel messages: %w", err)
	}
	out := make([]transport.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transport.Message{
			ExternalID:       m.ID,
			Text:             m.Content,
			TimestampSeconds: m.Timestamp.Unix(),
			SenderRef:        authorID(m),
		})
	}
	return out, nil
}

// SendMessage はテキストを送信する（MarkdownV2はDiscordのMarkdownとして送る）
func (c *Client) SendMessage(ctx context.Context, targetRef string, req transport.SendRequest) (transport.SentMessage, error) {
	send := &discordgo.MessageSend{Content: req.Text}
	if req.ReplyToExternalID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: req.ReplyToExternalID, ChannelID: targetRef}
	}
	m, err := c.api.Send(ctx, targetRef, send)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("discord send message: %w", err)
	}
	return sentMessage(m), nil
}

// SendFile はURLの画像を埋め込みとして送信する
func (c *Client) SendFile(ctx context.Context, targetRef string, req transport.FileRequest) (transport.SentMessage, error) {
	send := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Description: req.Caption,
			URL:         req.FileRef,
			Image:       &discordgo.MessageEmbedImage{URL: req.FileRef},
		}},
	}
	if req.ReplyToExternalID != "" {
		send.Reference = &discordgo.MessageReference{MessageID: req.ReplyToExternalID, ChannelID: targetRef}
	}
	m, err := c.api.Send(ctx, targetRef, send)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("discord send file: %w", err)
	}
	return sentMessage(m), nil
}

// MarkRead はボットアカウントでは使えない
func (c *Client) MarkRead(ctx context.Context, chatRef string) error {
	return transport.ErrNotSupported
}

// SetTyping は入力中表示を送る
func (c *Client) SetTyping(ctx context.Context, chatRef string) error {
	if err := c.api.Typing(ctx, chatRef); err != nil {
		return fmt.Errorf("discord typing: %w", err)
	}
	return nil
}

// Listen はゲートウェイのメッセージをイベントとして handle に渡す
func (c *Client) Listen(ctx context.Context, handle func(ctx context.Context, ev conversation.InboundEvent)) error {
	c.logger.Info().Msg("connecting to gateway")
	return c.api.Listen(ctx, func(m *discordgo.Message) {
		if handle == nil {
			return
		}
		handle(ctx, c.toEvent(ctx, m))
	})
}

func (c *Client) toEvent(ctx context.Context, m *discordgo.Message) conversation.InboundEvent {
	ev := conversation.InboundEvent{
		Platform:          Platform,
		ChatRef:           m.ChannelID,
		ChatKind:          conversation.ChatGroup,
		Text:              mentionsAsHandles(m),
		ExternalMessageID: m.ID,
		TimestampSeconds:  m.Timestamp.Unix(),
		SenderKind:        conversation.SenderUser,
	}
	if m.GuildID == "" {
		ev.ChatKind = conversation.ChatDirect
	} else if ch, err := c.api.Channel(ctx, m.ChannelID); err == nil {
		ev.ChatTitle = ch.Name
		if ch.Type == discordgo.ChannelTypeGuildNews {
			ev.ChatKind = conversation.ChatChannel
		}
	}

	if m.Author != nil {
		ev.SenderRef = m.Author.ID
		ev.SenderUsername = m.Author.Username
		ev.SenderName = m.Author.GlobalName
		if m.Author.Bot {
			ev.SenderKind = conversation.SenderBot
		}
	}
	if m.WebhookID != "" {
		ev.SenderKind = conversation.SenderChannel
		if ev.SenderRef == "" {
			ev.SenderRef = m.WebhookID
		}
	}

	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		ref := &conversation.ReplyRef{ExternalID: m.MessageReference.MessageID}
		if m.ReferencedMessage != nil {
			ref.SenderRef = authorID(m.ReferencedMessage)
		}
		ev.ReplyTo = ref
	}
	return ev
}

// mentionsAsHandles は <@id> 形式のメンションを @username に置き換える
func mentionsAsHandles(m *discordgo.Message) string {
	text := m.Content
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		handle := "@" + u.Username
		text = strings.NewReplacer("<@"+u.ID+">", handle, "<@!"+u.ID+">", handle).Replace(text)
	}
	return text
}

func authorID(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	return m.Author.ID
}

func sentMessage(m *discordgo.Message) transport.SentMessage {
	ts := m.Timestamp.Unix()
	if m.Timestamp.IsZero() {
		ts = time.Now().Unix()
	}
	return transport.SentMessage{ExternalID: m.ID, Text: m.Content, TimestampSeconds: ts}
}
