package telegram

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// fakeBot はテスト用のbotAPI
type fakeBot struct {
	mu      sync.Mutex
	updates chan telego.Update
	chats   map[string]*telego.ChatFullInfo
	sent    []*telego.SendMessageParams
	docs    []*telego.SendDocumentParams
	actions []*telego.SendChatActionParams
	nextID  int
	sendErr error
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		updates: make(chan telego.Update, 10),
		chats:   make(map[string]*telego.ChatFullInfo),
		nextID:  100,
	}
}

func (f *fakeBot) GetMe(ctx context.Context) (*telego.User, error) {
	return &telego.User{ID: 999, IsBot: true, FirstName: "Relay", Username: "relaybot"}, nil
}

func (f *fakeBot) GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error) {
	key := params.ChatID.Username
	if key == "" {
		key = strconv.FormatInt(params.ChatID.ID, 10)
	}
	info, ok := f.chats[key]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return info, nil
}

func (f *fakeBot) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	f.nextID++
	return &telego.Message{MessageID: f.nextID, Chat: telego.Chat{ID: params.ChatID.ID}, Text: params.Text, Date: 1780000000}, nil
}

func (f *fakeBot) SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, params)
	f.nextID++
	return &telego.Message{MessageID: f.nextID, Chat: telego.Chat{ID: params.ChatID.ID}, Caption: params.Caption}, nil
}

func (f *fakeBot) SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, params)
	return nil
}

func (f *fakeBot) Updates(ctx context.Context) (<-chan telego.Update, error) {
	return f.updates, nil
}

func newTestClient(bot *fakeBot, opts Options) *Client {
	return newClient(bot, opts, zerolog.Nop())
}

func TestConnect(t *testing.T) {
	bot := newFakeBot()
	bot.chats["@cryptoastnews"] = &telego.ChatFullInfo{ID: -100900, Type: telego.ChatTypeChannel, Title: "Cryptoast News"}
	c := newTestClient(bot, Options{Chats: []string{"@cryptoastnews", "@missing", "not-a-chat"}})

	self, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.Account{Ref: "999", Username: "relaybot", FirstName: "Relay"}, self)

	dialogs, err := c.GetDialogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transport.Dialog{{Ref: "-100900", DisplayName: "Cryptoast News", IsChannel: true}}, dialogs)
}

func TestListen_ConvertsAndBuffers(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Options{HistorySize: 10})
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	bot.updates <- telego.Update{Message: &telego.Message{
		MessageID: 7,
		Date:      1780000000,
		Chat:      telego.Chat{ID: -2001, Type: telego.ChatTypeSupergroup, Title: "Crypto FR"},
		From:      &telego.User{ID: 42, FirstName: "Alice", Username: "alice"},
		Text:      "@RelayBot et l'ETH ?",
		ReplyToMessage: &telego.Message{
			MessageID: 6,
			From:      &telego.User{ID: 999, IsBot: true},
		},
	}}
	bot.updates <- telego.Update{ChannelPost: &telego.Message{
		MessageID: 42,
		Date:      1780000100,
		Chat:      telego.Chat{ID: -100001, Type: telego.ChatTypeChannel, Title: "Watcher Guru"},
		Caption:   "BTC hits $70k",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var events []conversation.InboundEvent
	done := make(chan error, 1)
	go func() {
		done <- c.Listen(ctx, func(ctx context.Context, ev conversation.InboundEvent) {
			events = append(events, ev)
			if len(events) == 2 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listen did not stop")
	}

	require.Len(t, events, 2)
	group := events[0]
	assert.Equal(t, "-2001", group.ChatRef)
	assert.Equal(t, conversation.ChatGroup, group.ChatKind)
	assert.Equal(t, "42", group.SenderRef)
	assert.Equal(t, "Alice", group.SenderName)
	assert.Equal(t, conversation.SenderUser, group.SenderKind)
	assert.True(t, group.IsReplyTo("999"))
	assert.True(t, group.Mentions("relaybot"))

	post := events[1]
	assert.Equal(t, conversation.ChatChannel, post.ChatKind)
	assert.Equal(t, conversation.SenderChannel, post.SenderKind)
	assert.Equal(t, "BTC hits $70k", post.Text)

	msgs, err := c.GetMessages(context.Background(), "-100001", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "42", msgs[0].ExternalID)

	dialogs, _ := c.GetDialogs(context.Background())
	assert.Len(t, dialogs, 2)
}

func TestListen_ClosedChannel(t *testing.T) {
	bot := newFakeBot()
	close(bot.updates)
	err := newTestClient(bot, Options{}).Listen(context.Background(), nil)
	assert.EqualError(t, err, "telegram update channel closed")
}

func TestSendMessage(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Options{})
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	sent, err := c.SendMessage(context.Background(), "-100900", transport.SendRequest{
		Text:              "🚀 Le BTC atteint 70k \\$",
		ReplyToExternalID: "41",
		ParseMode:         transport.ParseModeMarkdownV2,
	})
	require.NoError(t, err)
	assert.Equal(t, "101", sent.ExternalID)

	require.Len(t, bot.sent, 1)
	params := bot.sent[0]
	assert.Equal(t, int64(-100900), params.ChatID.ID)
	assert.Equal(t, telego.ModeMarkdownV2, params.ParseMode)
	require.NotNil(t, params.ReplyParameters)
	assert.Equal(t, 41, params.ReplyParameters.MessageID)

	// 自分の送信も履歴に残る
	msgs, _ := c.GetMessages(context.Background(), "-100900", 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, "999", msgs[0].SenderRef)
}

func TestSendMessage_Errors(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Options{})

	_, err := c.SendMessage(context.Background(), "general", transport.SendRequest{Text: "x"})
	assert.ErrorContains(t, err, "invalid telegram chat")

	bot.sendErr = errors.New("Too Many Requests")
	_, err = c.SendMessage(context.Background(), "-1", transport.SendRequest{Text: "x"})
	assert.ErrorContains(t, err, "telegram sendMessage")
}

func TestSendFileAndPresence(t *testing.T) {
	bot := newFakeBot()
	c := newTestClient(bot, Options{})

	_, err := c.SendFile(context.Background(), "42", transport.FileRequest{FileRef: "https://example.com/chart.png", Caption: "BTC chart"})
	require.NoError(t, err)
	require.Len(t, bot.docs, 1)
	assert.Equal(t, "https://example.com/chart.png", bot.docs[0].Document.URL)
	assert.Equal(t, "BTC chart", bot.docs[0].Caption)

	require.NoError(t, c.SetTyping(context.Background(), "42"))
	require.Len(t, bot.actions, 1)
	assert.Equal(t, telego.ChatActionTyping, bot.actions[0].Action)

	assert.ErrorIs(t, c.MarkRead(context.Background(), "42"), transport.ErrNotSupported)
}

func TestHistoryBuffer(t *testing.T) {
	h := newHistoryBuffer(3)
	for _, id := range []string{"5", "3", "10", "7"} {
		h.add("c", transport.Message{ExternalID: id})
	}
	h.add("c", transport.Message{ExternalID: "7", Text: "edited"})

	got := h.newest("c", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "10", got[0].ExternalID)
	assert.Equal(t, "7", got[1].ExternalID)
	assert.Equal(t, "edited", got[1].Text)
	assert.Equal(t, "5", got[2].ExternalID)

	assert.Len(t, h.newest("c", 1), 1)
	assert.Empty(t, h.newest("other", 5))
}
