package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/news"
)

// ルーティングキー
const (
	KeyRecordCreated  = "conversation.record.created"
	KeyNewsPublished  = "news.repost.published"
	KeyNewsSuppressed = "news.repost.suppressed"
)

// Envelope はイベントの共通ラッパー
type Envelope struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// channel はPublisherが使うAMQPチャンネルの操作
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher は会話レコードとニュース転載結果をAMQPトピックエクスチェンジへ送る
type Publisher struct {
	exchange string
	open     func() (channel, error)
	close    func() error
	logger   zerolog.Logger
}

// NewPublisher はRabbitMQに接続し、トピックエクスチェンジを宣言する
func NewPublisher(url, exchange string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	open := func() (channel, error) { return conn.Channel() }
	return newPublisher(exchange, open, conn.Close, logger), nil
}

func newPublisher(exchange string, open func() (channel, error), closeFn func() error, logger zerolog.Logger) *Publisher {
	return &Publisher{
		exchange: exchange,
		open:     open,
		close:    closeFn,
		logger:   logger.With().Str("component", "events").Str("exchange", exchange).Logger(),
	}
}

type recordPayload struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	Action    string    `json:"action,omitempty"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Evaluate は受信した会話レコードをイベントとして送る
func (p *Publisher) Evaluate(ctx context.Context, r conversation.Record) error {
	payload := recordPayload{
		ID:        r.ID.String(),
		AgentID:   r.AgentID.String(),
		UserID:    r.UserID.String(),
		RoomID:    r.RoomID.String(),
		Text:      r.Content.Text,
		Source:    r.Content.Source,
		Action:    r.Content.Action,
		CreatedAt: r.CreatedAt,
	}
	if r.Content.InReplyTo != nil {
		payload.InReplyTo = r.Content.InReplyTo.String()
	}
	return p.publish(ctx, KeyRecordCreated, payload.ID, payload.RoomID, r.CreatedAt, payload)
}

type outcomePayload struct {
	TickID           string `json:"tick_id"`
	ChannelRef       string `json:"channel_ref"`
	ChannelName      string `json:"channel_name"`
	MessageID        string `json:"message_id"`
	Text             string `json:"text"`
	Novel            bool   `json:"novel"`
	VerdictReason    string `json:"verdict_reason,omitempty"`
	Published        bool   `json:"published"`
	TargetMessageRef string `json:"target_message_ref,omitempty"`
	Reason           string `json:"reason,omitempty"`
	RecordID         string `json:"record_id,omitempty"`
}

// PublishOutcome はニュース候補の処理結果をイベントとして送る
func (p *Publisher) PublishOutcome(ctx context.Context, o news.Outcome) error {
	payload := outcomePayload{
		TickID:           o.TickID,
		ChannelRef:       o.Candidate.Channel.ChannelRef,
		ChannelName:      o.Candidate.Channel.DisplayName,
		MessageID:        o.Candidate.Message.ExternalID,
		Text:             o.Candidate.NormalizedText(),
		Novel:            o.Verdict.IsNovel(),
		VerdictReason:    o.Verdict.Reason(),
		Published:        o.Result.IsPublished(),
		TargetMessageRef: o.Result.TargetMessageRef(),
		Reason:           o.Result.Reason(),
		RecordID:         o.RecordID,
	}

	key := KeyNewsSuppressed
	if payload.Published {
		key = KeyNewsPublished
	}
	id := o.RecordID
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s", o.TickID, payload.ChannelRef, payload.MessageID)
	}
	return p.publish(ctx, key, id, o.TickID, o.At, payload)
}

func (p *Publisher) publish(ctx context.Context, key, id, correlationID string, at time.Time, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", key, err)
	}
	if at.IsZero() {
		at = time.Now()
	}
	body, err := json.Marshal(Envelope{
		Type:          key,
		ID:            id,
		CorrelationID: correlationID,
		OccurredAt:    at.UTC(),
		Payload:       raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", key, err)
	}

	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("failed to open amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     id,
		CorrelationId: correlationID,
		Timestamp:     at,
		Type:          key,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}

	p.logger.Debug().Str("key", key).Str("id", id).Msg("published")
	return nil
}

// Close は接続を閉じる
func (p *Publisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}
