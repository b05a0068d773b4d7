package slack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// Platform はプラットフォーム名
const Platform = "slack"

const (
	maxFetch   = 1000
	pageSize   = 200
	maxTracked = 1000
)

// api はクライアントが使うSlack Web APIの操作（*slack.Client が満たす）
type api interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	MarkConversationContext(ctx context.Context, channel, ts string) error
}

// Client はSlackのtransport.Client実装
type Client struct {
	api    api
	events eventSource
	logger zerolog.Logger

	mu    sync.Mutex
	self  transport.Account
	sent  map[string]struct{}
	order []string
}

// NewClient はボットトークンとアプリトークンからSlackクライアントを作成
func NewClient(botToken, appToken string, logger zerolog.Logger) *Client {
	webAPI := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	l := logger.With().Str("component", "slack").Logger()
	return newClient(webAPI, &socketSource{client: socketmode.New(webAPI), logger: l}, logger)
}

func newClient(a api, events eventSource, logger zerolog.Logger) *Client {
	return &Client{
		api:    a,
		events: events,
		logger: logger.With().Str("component", "slack").Logger(),
		sent:   make(map[string]struct{}),
	}
}

// Platform はプラットフォーム名を返す
func (c *Client) Platform() string {
	return Platform
}

// Connect はボット自身の情報を取得する
func (c *Client) Connect(ctx context.Context) (transport.Account, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return transport.Account{}, fmt.Errorf("slack auth test: %w", err)
	}
	self := transport.Account{Ref: resp.UserID, Username: resp.User}
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()
	return self, nil
}

// GetDialogs はアーカイブされていないチャンネルをすべて返す
func (c *Client) GetDialogs(ctx context.Context) ([]transport.Dialog, error) {
	var out []transport.Dialog
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		ExcludeArchived: true,
		Limit:           pageSize,
	}
	for {
		channels, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack list conversations: %w", err)
		}
		for _, ch := range channels {
			out = append(out, transport.Dialog{Ref: ch.ID, DisplayName: ch.Name})
		}
		if cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

// GetMessages は新しい順にメッセージを返す
func (c *Client) GetMessages(ctx context.Context, channelRef string, limit int) ([]transport.Message, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelRef,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack conversation history: %w", err)
	}
	out := make([]transport.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		sender := m.User
		if sender == "" {
			sender = m.BotID
		}
		out = append(out, transport.Message{
			ExternalID:       m.Timestamp,
			Text:             m.Text,
			TimestampSeconds: tsSeconds(m.Timestamp),
			SenderRef:        sender,
		})
	}
	return out, nil
}

// SendMessage はテキストを送信する。返信はスレッドに投稿する
func (c *Client) SendMessage(ctx context.Context, targetRef string, req transport.SendRequest) (transport.SentMessage, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(req.Text, false)}
	if req.ReplyToExternalID != "" {
		opts = append(opts, slack.MsgOptionTS(req.ReplyToExternalID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, targetRef, opts...)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("slack post message: %w", err)
	}
	c.track(ts)
	return transport.SentMessage{ExternalID: ts, Text: req.Text, TimestampSeconds: tsSeconds(ts)}, nil
}

// SendFile はURLの画像を画像ブロックとして送信する
func (c *Client) SendFile(ctx context.Context, targetRef string, req transport.FileRequest) (transport.SentMessage, error) {
	alt := req.Caption
	if alt == "" {
		alt = "image"
	}
	opts := []slack.MsgOption{
		slack.MsgOptionText(req.Caption, false),
		slack.MsgOptionBlocks(slack.NewImageBlock(req.FileRef, alt, "", nil)),
	}
	if req.ReplyToExternalID != "" {
		opts = append(opts, slack.MsgOptionTS(req.ReplyToExternalID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, targetRef, opts...)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("slack post image: %w", err)
	}
	c.track(ts)
	return transport.SentMessage{ExternalID: ts, Text: req.Caption, TimestampSeconds: tsSeconds(ts)}, nil
}

// MarkRead は会話の既読位置を最新メッセージに進める
func (c *Client) MarkRead(ctx context.Context, chatRef string) error {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{ChannelID: chatRef, Limit: 1})
	if err != nil {
		return fmt.Errorf("slack mark read: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil
	}
	if err := c.api.MarkConversationContext(ctx, chatRef, resp.Messages[0].Timestamp); err != nil {
		return fmt.Errorf("slack mark read: %w", err)
	}
	return nil
}

// SetTyping はボットのWeb APIでは使えない
func (c *Client) SetTyping(ctx context.Context, chatRef string) error {
	return transport.ErrNotSupported
}

// Listen はSocket Modeのメッセージイベントを handle に渡す
func (c *Client) Listen(ctx context.Context, handle func(ctx context.Context, ev conversation.InboundEvent)) error {
	return c.events.Run(ctx, func(ev slackevents.EventsAPIEvent) {
		if ev.Type != slackevents.CallbackEvent || handle == nil {
			return
		}
		msg, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok || !acceptedSubtype(msg.SubType) {
			return
		}
		handle(ctx, c.toEvent(msg))
	})
}

func (c *Client) toEvent(m *slackevents.MessageEvent) conversation.InboundEvent {
	c.mu.Lock()
	self := c.self
	c.mu.Unlock()

	ev := conversation.InboundEvent{
		Platform:          Platform,
		ChatRef:           m.Channel,
		ChatKind:          conversation.ChatGroup,
		Text:              selfMentionAsHandle(m.Text, self),
		ExternalMessageID: m.TimeStamp,
		TimestampSeconds:  tsSeconds(m.TimeStamp),
		SenderRef:         m.User,
		SenderUsername:    m.Username,
		SenderKind:        conversation.SenderUser,
	}
	if m.ChannelType == "im" {
		ev.ChatKind = conversation.ChatDirect
	}
	if m.BotID != "" {
		ev.SenderKind = conversation.SenderBot
		if ev.SenderRef == "" {
			ev.SenderRef = m.BotID
		}
	}
	if m.ThreadTimeStamp != "" && m.ThreadTimeStamp != m.TimeStamp {
		ref := &conversation.ReplyRef{ExternalID: m.ThreadTimeStamp}
		if c.isOwn(m.ThreadTimeStamp) {
			ref.SenderRef = self.Ref
		}
		ev.ReplyTo = ref
	}
	return ev
}

// track は自分が送信したメッセージのtsを覚えておく（スレッド返信の判定用）
func (c *Client) track(ts string) {
	if ts == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sent[ts]; ok {
		return
	}
	c.sent[ts] = struct{}{}
	c.order = append(c.order, ts)
	if len(c.order) > maxTracked {
		delete(c.sent, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Client) isOwn(ts string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sent[ts]
	return ok
}

// acceptedSubtype は編集・削除・参加などのシステムメッセージを除外する
func acceptedSubtype(subtype string) bool {
	switch subtype {
	case "", "bot_message", "thread_broadcast", "file_share", "me_message":
		return true
	}
	return false
}

// selfMentionAsHandle は <@selfID> 形式のメンションを @username に置き換える
func selfMentionAsHandle(text string, self transport.Account) string {
	if self.Ref == "" || self.Username == "" {
		return text
	}
	return strings.ReplaceAll(text, "<@"+self.Ref+">", "@"+self.Username)
}

// tsSeconds はSlackのts（"1712345678.000100"）を秒に変換する
func tsSeconds(ts string) int64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}
