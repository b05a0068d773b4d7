package reply

import (
	"strings"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// Accept はイベントをパイプラインで扱うかどうかを判定する（副作用なし）
//
// 本文が空のもの、一般ユーザー以外からのもの、自分自身の発言は除外する。
// チャンネルは明示的に宛てられた場合（@メンションか自分への返信）のみ受け付ける。
func Accept(ev conversation.InboundEvent, self transport.Account) bool {
	if strings.TrimSpace(ev.Text) == "" {
		return false
	}
	if ev.SenderKind != conversation.SenderUser {
		return false
	}
	if self.Ref != "" && ev.SenderRef == self.Ref {
		return false
	}

	switch ev.ChatKind {
	case conversation.ChatDirect, conversation.ChatGroup:
		return true
	case conversation.ChatChannel:
		return ev.IsReplyTo(self.Ref) || ev.Mentions(self.Username)
	default:
		return false
	}
}

// ShouldRespond は返信すべきかどうかを判定する（オラクルは呼ばない）
func ShouldRespond(ev conversation.InboundEvent, self transport.Account) bool {
	if ev.IsReplyTo(self.Ref) {
		return true
	}
	if ev.IsDirect() {
		return true
	}
	return ev.Mentions(self.Username)
}
