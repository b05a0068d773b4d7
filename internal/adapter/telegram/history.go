package telegram

import (
	"sort"
	"sync"

	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// historyBuffer はチャットごとの直近メッセージを保持する
// Bot APIには履歴取得がないため、受信・送信したメッセージから組み立てる
type historyBuffer struct {
	mu    sync.RWMutex
	size  int
	chats map[string][]transport.Message
}

func newHistoryBuffer(size int) *historyBuffer {
	if size <= 0 {
		size = 200
	}
	return &historyBuffer{size: size, chats: make(map[string][]transport.Message)}
}

// add はメッセージを追加する（同じIDは上書き）
func (h *historyBuffer) add(chatRef string, m transport.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgs := h.chats[chatRef]
	for i := range msgs {
		if msgs[i].ExternalID == m.ExternalID {
			msgs[i] = m
			return
		}
	}
	msgs = append(msgs, m)
	sort.SliceStable(msgs, func(i, j int) bool {
		return transport.CompareMessageIDs(msgs[i].ExternalID, msgs[j].ExternalID) < 0
	})
	if len(msgs) > h.size {
		msgs = msgs[len(msgs)-h.size:]
	}
	h.chats[chatRef] = msgs
}

// newest は新しい順に最大 limit 件を返す
func (h *historyBuffer) newest(chatRef string, limit int) []transport.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msgs := h.chats[chatRef]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]transport.Message, 0, limit)
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, msgs[i])
	}
	return out
}
