package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Nyukimin/relayclaw/internal/domain/identity"
)

// EmbeddingDimensions は埋め込みプレースホルダの次元数
const EmbeddingDimensions = 1536

// ActionContinue は後続チャンクがあることを示すマーカー
const ActionContinue = "CONTINUE"

const (
	SourceTelegram = "telegram"
	SourceDiscord  = "discord"
	SourceSlack    = "slack"
	SourceNews     = "news"
)

// ErrInvalidRecord はレコードの必須項目が欠けている場合のエラー
var ErrInvalidRecord = errors.New("invalid conversation record")

// Attachment は添付ファイル
type Attachment struct {
	URL         string
	Description string
}

// Content はレコード本文
type Content struct {
	Text        string
	InReplyTo   *identity.CorrelationID
	Source      string
	Action      string
	Attachments []Attachment
}

// IsEmpty は送信可能な内容がないかどうか
func (c *Content) IsEmpty() bool {
	return c == nil || (strings.TrimSpace(c.Text) == "" && len(c.Attachments) == 0)
}

// Record は会話ログの1エントリ（作成後は不変）
type Record struct {
	ID        identity.CorrelationID
	AgentID   identity.CorrelationID
	UserID    identity.CorrelationID
	RoomID    identity.CorrelationID
	Content   Content
	CreatedAt time.Time
	Embedding []float32
}

// NewRecord は新しいレコードを作成
func NewRecord(id, agentID, userID, roomID identity.CorrelationID, content Content, createdAt time.Time) (Record, error) {
	if id.IsZero() || agentID.IsZero() || userID.IsZero() || roomID.IsZero() {
		return Record{}, ErrInvalidRecord
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return Record{
		ID:        id,
		AgentID:   agentID,
		UserID:    userID,
		RoomID:    roomID,
		Content:   content,
		CreatedAt: createdAt.UTC(),
		Embedding: PlaceholderEmbedding(),
	}, nil
}

// PlaceholderEmbedding はゼロベクトルを返す
func PlaceholderEmbedding() []float32 {
	return make([]float32, EmbeddingDimensions)
}

// Query はレコード検索条件
type Query struct {
	AgentID identity.CorrelationID
	RoomID  identity.CorrelationID
	Source  string
	Since   time.Time
	Limit   int
}

// Matches はレコードが条件に一致するかどうか
func (q Query) Matches(r Record) bool {
	if !q.AgentID.IsZero() && !q.AgentID.Equals(r.AgentID) {
		return false
	}
	if !q.RoomID.IsZero() && !q.RoomID.Equals(r.RoomID) {
		return false
	}
	if q.Source != "" && q.Source != r.Content.Source {
		return false
	}
	if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
		return false
	}
	return true
}

// Store は会話レコードの永続化の抽象化
type Store interface {
	// CreateRecord は同じIDのレコードが既にあれば何もしない
	CreateRecord(ctx context.Context, record Record) error
	// ListRecords は新しい順に返す
	ListRecords(ctx context.Context, query Query) ([]Record, error)
}
