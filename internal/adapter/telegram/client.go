package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// Platform はプラットフォーム名
const Platform = "telegram"

// Options はTelegramクライアントの設定
type Options struct {
	HistorySize int
	// Chats は起動時に解決しておくチャット（数値ID または @username）
	Chats []string
}

// Client はTelegram Bot APIのtransport.Client実装
type Client struct {
	api     botAPI
	opts    Options
	history *historyBuffer
	logger  zerolog.Logger

	mu      sync.RWMutex
	self    transport.Account
	dialogs map[string]transport.Dialog
}

// NewClient はトークンからTelegramクライアントを作成
func NewClient(token string, opts Options, logger zerolog.Logger) (*Client, error) {
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newClient(telegoBot{bot}, opts, logger), nil
}

func newClient(api botAPI, opts Options, logger zerolog.Logger) *Client {
	return &Client{
		api:     api,
		opts:    opts,
		history: newHistoryBuffer(opts.HistorySize),
		logger:  logger.With().Str("component", "telegram").Logger(),
		dialogs: make(map[string]transport.Dialog),
	}
}

// Platform はプラットフォーム名を返す
func (c *Client) Platform() string {
	return Platform
}

// Connect はボット自身の情報を取得し、設定済みのチャットを解決する
func (c *Client) Connect(ctx context.Context) (transport.Account, error) {
	me, err := c.api.GetMe(ctx)
	if err != nil {
		return transport.Account{}, fmt.Errorf("telegram getMe: %w", err)
	}
	self := transport.Account{
		Ref:       strconv.FormatInt(me.ID, 10),
		Username:  me.Username,
		FirstName: me.FirstName,
		LastName:  me.LastName,
	}

	c.mu.Lock()
	c.self = self
	c.mu.Unlock()

	for _, ref := range c.opts.Chats {
		if err := c.resolveChat(ctx, ref); err != nil {
			c.logger.Warn().Err(err).Str("chat", ref).Msg("resolve chat failed")
		}
	}
	return self, nil
}

func (c *Client) resolveChat(ctx context.Context, ref string) error {
	chatID, err := parseChatID(ref)
	if err != nil {
		return err
	}
	info, err := c.api.GetChat(ctx, &telego.GetChatParams{ChatID: chatID})
	if err != nil {
		return fmt.Errorf("telegram getChat: %w", err)
	}
	c.rememberDialog(telego.Chat{
		ID:        info.ID,
		Type:      info.Type,
		Title:     info.Title,
		Username:  info.Username,
		FirstName: info.FirstName,
		LastName:  info.LastName,
	})
	return nil
}

// GetDialogs は既知のチャットを返す（起動時に解決したものと受信したもの）
func (c *Client) GetDialogs(ctx context.Context) ([]transport.Dialog, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]transport.Dialog, 0, len(c.dialogs))
	for _, d := range c.dialogs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

// GetMessages はバッファ済みのメッセージを新しい順に返す
func (c *Client) GetMessages(ctx context.Context, channelRef string, limit int) ([]transport.Message, error) {
	return c.history.newest(channelRef, limit), nil
}

// SendMessage はテキストを送信する
func (c *Client) SendMessage(ctx context.Context, targetRef string, req transport.SendRequest) (transport.SentMessage, error) {
	chatID, err := parseChatID(targetRef)
	if err != nil {
		return transport.SentMessage{}, err
	}

	params := tu.Message(chatID, req.Text)
	if req.ParseMode == transport.ParseModeMarkdownV2 {
		params.ParseMode = telego.ModeMarkdownV2
	}
	if reply, ok := replyParameters(req.ReplyToExternalID); ok {
		params.ReplyParameters = reply
	}

	msg, err := c.api.SendMessage(ctx, params)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("telegram sendMessage: %w", err)
	}
	return c.sent(msg), nil
}

// SendFile はURLのファイルをドキュメントとして送信する
func (c *Client) SendFile(ctx context.Context, targetRef string, req transport.FileRequest) (transport.SentMessage, error) {
	chatID, err := parseChatID(targetRef)
	if err != nil {
		return transport.SentMessage{}, err
	}

	params := tu.Document(chatID, tu.FileFromURL(req.FileRef))
	params.Caption = req.Caption
	if reply, ok := replyParameters(req.ReplyToExternalID); ok {
		params.ReplyParameters = reply
	}

	msg, err := c.api.SendDocument(ctx, params)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("telegram sendDocument: %w", err)
	}
	return c.sent(msg), nil
}

// MarkRead はBot APIに既読の概念がないためサポートしない
func (c *Client) MarkRead(ctx context.Context, chatRef string) error {
	return transport.ErrNotSupported
}

// SetTyping は入力中表示を送る
func (c *Client) SetTyping(ctx context.Context, chatRef string) error {
	chatID, err := parseChatID(chatRef)
	if err != nil {
		return err
	}
	if err := c.api.SendChatAction(ctx, tu.ChatAction(chatID, telego.ChatActionTyping)); err != nil {
		return fmt.Errorf("telegram sendChatAction: %w", err)
	}
	return nil
}

// Listen は更新を受け取り、メッセージごとに handle を呼ぶ
// チャンネル投稿も履歴バッファに入れるため、返信が無効でも実行しておく
func (c *Client) Listen(ctx context.Context, handle func(ctx context.Context, ev conversation.InboundEvent)) error {
	updates, err := c.api.Updates(ctx)
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}
	c.logger.Info().Msg("listening for updates")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("telegram update channel closed")
			}
			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			if msg == nil {
				continue
			}
			ev := c.observe(msg)
			if handle != nil {
				handle(ctx, ev)
			}
		}
	}
}

// observe はメッセージをバッファとチャット一覧に反映し、イベントに変換する
func (c *Client) observe(msg *telego.Message) conversation.InboundEvent {
	c.rememberDialog(msg.Chat)
	ev := toEvent(msg)
	c.history.add(ev.ChatRef, transport.Message{
		ExternalID:       ev.ExternalMessageID,
		Text:             ev.Text,
		TimestampSeconds: ev.TimestampSeconds,
		SenderRef:        ev.SenderRef,
	})
	return ev
}

func (c *Client) rememberDialog(chat telego.Chat) {
	d := transport.Dialog{
		Ref:         strconv.FormatInt(chat.ID, 10),
		DisplayName: chatTitle(chat),
		IsChannel:   chat.Type == telego.ChatTypeChannel,
	}
	c.mu.Lock()
	c.dialogs[d.Ref] = d
	c.mu.Unlock()
}

// sent は送信結果を自分のメッセージとしてバッファに入れる
func (c *Client) sent(msg *telego.Message) transport.SentMessage {
	c.mu.RLock()
	selfRef := c.self.Ref
	c.mu.RUnlock()

	out := transport.SentMessage{
		ExternalID:       strconv.Itoa(msg.MessageID),
		Text:             messageText(msg),
		TimestampSeconds: msg.Date,
	}
	if out.TimestampSeconds == 0 {
		out.TimestampSeconds = time.Now().Unix()
	}
	c.history.add(strconv.FormatInt(msg.Chat.ID, 10), transport.Message{
		ExternalID:       out.ExternalID,
		Text:             out.Text,
		TimestampSeconds: out.TimestampSeconds,
		SenderRef:        selfRef,
	})
	return out
}

func toEvent(msg *telego.Message) conversation.InboundEvent {
	ev := conversation.InboundEvent{
		Platform:          Platform,
		ChatRef:           strconv.FormatInt(msg.Chat.ID, 10),
		ChatKind:          chatKind(msg.Chat.Type),
		ChatTitle:         chatTitle(msg.Chat),
		Text:              messageText(msg),
		ExternalMessageID: strconv.Itoa(msg.MessageID),
		TimestampSeconds:  msg.Date,
	}

	switch {
	case msg.From != nil:
		ev.SenderRef = strconv.FormatInt(msg.From.ID, 10)
		ev.SenderUsername = msg.From.Username
		ev.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		ev.SenderKind = conversation.SenderUser
		if msg.From.IsBot {
			ev.SenderKind = conversation.SenderBot
		}
	case msg.SenderChat != nil:
		ev.SenderRef = strconv.FormatInt(msg.SenderChat.ID, 10)
		ev.SenderUsername = msg.SenderChat.Username
		ev.SenderName = chatTitle(*msg.SenderChat)
		ev.SenderKind = conversation.SenderChannel
	default:
		ev.SenderRef = ev.ChatRef
		ev.SenderKind = conversation.SenderChannel
	}

	if parent := msg.ReplyToMessage; parent != nil {
		ref := &conversation.ReplyRef{ExternalID: strconv.Itoa(parent.MessageID)}
		if parent.From != nil {
			ref.SenderRef = strconv.FormatInt(parent.From.ID, 10)
		}
		ev.ReplyTo = ref
	}
	return ev
}

func messageText(msg *telego.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func chatKind(chatType string) conversation.ChatKind {
	switch chatType {
	case telego.ChatTypePrivate:
		return conversation.ChatDirect
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
		return conversation.ChatGroup
	case telego.ChatTypeChannel:
		return conversation.ChatChannel
	default:
		return conversation.ChatKind(chatType)
	}
}

func chatTitle(chat telego.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	name := strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	if name != "" {
		return name
	}
	return chat.Username
}

// parseChatID は数値ID または @username をChatIDに変換する
func parseChatID(ref string) (telego.ChatID, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "@") && len(ref) > 1 {
		return tu.Username(ref), nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid telegram chat %q: %w", ref, err)
	}
	return tu.ID(id), nil
}

func replyParameters(externalID string) (*telego.ReplyParameters, bool) {
	if externalID == "" {
		return nil, false
	}
	id, err := strconv.Atoi(externalID)
	if err != nil {
		return nil, false
	}
	return &telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}, true
}
