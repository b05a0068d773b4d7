package transport

import (
	"context"
	"errors"
	"math/big"
	"strings"
)

// ErrNotSupported はプラットフォームが操作をサポートしない場合のエラー
var ErrNotSupported = errors.New("operation not supported by transport")

// ParseMode は送信テキストの解釈モード
type ParseMode string

const (
	ParseModeNone       ParseMode = ""
	ParseModeMarkdownV2 ParseMode = "MarkdownV2"
)

// Account はログイン中のアカウント（自分自身）
type Account struct {
	Ref       string
	Username  string
	FirstName string
	LastName  string
}

// DisplayName は表示名を返す
func (a Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Username
	}
	return name
}

// Dialog は参加中の会話・チャンネル
type Dialog struct {
	Ref         string
	DisplayName string
	IsChannel   bool
}

// Message はチャンネルから取得したメッセージ
type Message struct {
	ExternalID       string
	Text             string
	TimestampSeconds int64
	SenderRef        string
}

// SendRequest はテキスト送信リクエスト
type SendRequest struct {
	Text              string
	ReplyToExternalID string
	ParseMode         ParseMode
}

// FileRequest はファイル送信リクエスト
type FileRequest struct {
	FileRef           string
	Caption           string
	ReplyToExternalID string
}

// SentMessage は送信済みメッセージ
type SentMessage struct {
	ExternalID       string
	Text             string
	TimestampSeconds int64
}

// Client はメッセージングプラットフォームのクライアント
type Client interface {
	Platform() string
	Connect(ctx context.Context) (Account, error)
	GetDialogs(ctx context.Context) ([]Dialog, error)
	// GetMessages は新しい順にメッセージを返す
	GetMessages(ctx context.Context, channelRef string, limit int) ([]Message, error)
	SendMessage(ctx context.Context, targetRef string, req SendRequest) (SentMessage, error)
	SendFile(ctx context.Context, targetRef string, req FileRequest) (SentMessage, error)
	MarkRead(ctx context.Context, chatRef string) error
	SetTyping(ctx context.Context, chatRef string) error
}

// CompareMessageIDs はメッセージIDを比較する（a<b: -1, a==b: 0, a>b: 1）
//
// 数値ID（Telegram/Discord）と小数ID（Slackのts）は任意精度で比較し、
// 数値でないIDは長さ→辞書順で比較する。
func CompareMessageIDs(a, b string) int {
	ra, okA := new(big.Rat).SetString(strings.TrimSpace(a))
	rb, okB := new(big.Rat).SetString(strings.TrimSpace(b))
	if okA && okB {
		return ra.Cmp(rb)
	}

	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
