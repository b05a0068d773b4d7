package conversation

import (
	"strings"
	"time"
)

// AgentProfile はエージェントの人格情報（全プロンプトに注入される）
type AgentProfile struct {
	Name     string
	Username string
	Bio      []string
	Lore     []string
	Language string
}

// Handle は @ を除いたユーザー名を返す
func (p AgentProfile) Handle() string {
	return strings.TrimPrefix(p.Username, "@")
}

// State は返信生成に渡す会話状態
// ルームの最近のレコードと処理中のレコードを保持する
type State struct {
	agent    AgentProfile
	room     string
	sender   string
	history  []Record
	current  Record
	composed time.Time
}

// NewState は新しい会話状態を作成
// history は新しい順で渡され、内部では古い順に保持する
func NewState(agent AgentProfile, roomTitle, senderName string, history []Record, current Record) *State {
	ordered := make([]Record, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID.Equals(current.ID) {
			continue
		}
		ordered = append(ordered, history[i])
	}
	return &State{
		agent:    agent,
		room:     roomTitle,
		sender:   senderName,
		history:  ordered,
		current:  current,
		composed: time.Now(),
	}
}

// Agent はエージェントプロフィールを返す
func (s *State) Agent() AgentProfile {
	return s.agent
}

// RoomTitle はルーム名を返す
func (s *State) RoomTitle() string {
	return s.room
}

// SenderName は送信者名を返す
func (s *State) SenderName() string {
	return s.sender
}

// Current は処理中のレコードを返す
func (s *State) Current() Record {
	return s.current
}

// GetHistory は古い順の履歴を返す
func (s *State) GetHistory() []Record {
	return s.history
}

// GetRecentHistory は最近N件の履歴を返す
func (s *State) GetRecentHistory(n int) []Record {
	if n <= 0 {
		return nil
	}
	if len(s.history) <= n {
		return s.history
	}
	return s.history[len(s.history)-n:]
}

// HistoryCount は履歴の件数を返す
func (s *State) HistoryCount() int {
	return len(s.history)
}

// ComposedAt は状態を組み立てた時刻を返す
func (s *State) ComposedAt() time.Time {
	return s.composed
}

// IsFromAgent はレコードがエージェント自身の発言かどうか
func (s *State) IsFromAgent(r Record) bool {
	return r.UserID.Equals(s.current.AgentID)
}
