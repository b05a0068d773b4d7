package telegram

import (
	"context"

	"github.com/mymmrac/telego"
)

// botAPI はクライアントが使うBot APIの操作
type botAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	GetChat(ctx context.Context, params *telego.GetChatParams) (*telego.ChatFullInfo, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
	Updates(ctx context.Context) (<-chan telego.Update, error)
}

// telegoBot はtelego.BotをbotAPIに合わせる
type telegoBot struct {
	*telego.Bot
}

// Updates はロングポーリングで更新を受け取る（ctx終了で停止）
func (b telegoBot) Updates(ctx context.Context) (<-chan telego.Update, error) {
	return b.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "channel_post"},
	})
}
