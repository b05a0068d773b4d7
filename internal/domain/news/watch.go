package news

import (
	"sort"
	"sync"

	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// ChannelWatch は監視中のソースチャンネル
type ChannelWatch struct {
	ChannelRef  string
	DisplayName string
	LastSeen    string
}

// WatchState はチャンネルごとの最終既読メッセージIDを保持する
//
// 書き込みはニュースエンジンのティックからのみ行われる（単一ライター）。
// ロックは読み手（HTTP, 返信パイプライン）へのスナップショット提供のため。
type WatchState struct {
	mu      sync.RWMutex
	watches map[string]*ChannelWatch
}

// NewWatchState は新しいWatchStateを作成
func NewWatchState() *WatchState {
	return &WatchState{watches: make(map[string]*ChannelWatch)}
}

// Watch はチャンネルを監視対象に加える（既存の既読IDは保持）
func (s *WatchState) Watch(channelRef, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.watches[channelRef]; ok {
		w.DisplayName = displayName
		return
	}
	s.watches[channelRef] = &ChannelWatch{ChannelRef: channelRef, DisplayName: displayName}
}

// Advance は id が既読IDより新しい場合のみ既読IDを更新し true を返す
func (s *WatchState) Advance(channelRef, id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[channelRef]
	if !ok {
		return false
	}
	if w.LastSeen != "" && transport.CompareMessageIDs(id, w.LastSeen) <= 0 {
		return false
	}
	w.LastSeen = id
	return true
}

// LastSeen はチャンネルの既読IDを返す
func (s *WatchState) LastSeen(channelRef string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.watches[channelRef]
	if !ok || w.LastSeen == "" {
		return "", false
	}
	return w.LastSeen, true
}

// Watches は表示名順のスナップショットを返す
func (s *WatchState) Watches() []ChannelWatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChannelWatch, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ChannelRef < out[j].ChannelRef
	})
	return out
}

// Snapshot は永続化用に channelRef → 既読ID のマップを返す
func (s *WatchState) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.watches))
	for ref, w := range s.watches {
		if w.LastSeen != "" {
			out[ref] = w.LastSeen
		}
	}
	return out
}

// Load は永続化された既読IDを監視中のチャンネルに復元する
// 既存の値より古いIDでは巻き戻さない
func (s *WatchState) Load(lastSeen map[string]string) {
	for ref, id := range lastSeen {
		s.Advance(ref, id)
	}
}

// Len は監視中のチャンネル数を返す
func (s *WatchState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watches)
}
