package conversation

import "strings"

// ChatKind は会話の種類
type ChatKind string

const (
	ChatDirect  ChatKind = "direct"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

// SenderKind は送信者の種類
type SenderKind string

const (
	SenderUser    SenderKind = "user"
	SenderBot     SenderKind = "bot"
	SenderChannel SenderKind = "channel"
)

// ReplyRef は返信先メッセージの参照
type ReplyRef struct {
	ExternalID string
	SenderRef  string
}

// InboundEvent はトランスポートから届いた1件のメッセージ
type InboundEvent struct {
	Platform          string
	SenderRef         string
	SenderUsername    string
	SenderName        string
	SenderKind        SenderKind
	ChatRef           string
	ChatKind          ChatKind
	ChatTitle         string
	Text              string
	ExternalMessageID string
	TimestampSeconds  int64
	ReplyTo           *ReplyRef
}

// IsDirect はダイレクトメッセージかどうか
func (e InboundEvent) IsDirect() bool {
	return e.ChatKind == ChatDirect
}

// IsReplyTo は accountRef のメッセージへの返信かどうか
func (e InboundEvent) IsReplyTo(accountRef string) bool {
	return e.ReplyTo != nil && accountRef != "" && e.ReplyTo.SenderRef == accountRef
}

// Mentions はテキストが @handle を含むかどうか（大文字小文字を区別しない）
func (e InboundEvent) Mentions(handle string) bool {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return false
	}
	text := strings.ToLower(e.Text)
	needle := "@" + strings.ToLower(handle)

	for {
		idx := strings.Index(text, needle)
		if idx < 0 {
			return false
		}
		end := idx + len(needle)
		if end == len(text) || !isHandleChar(text[end]) {
			return true
		}
		text = text[end:]
	}
}

func isHandleChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
