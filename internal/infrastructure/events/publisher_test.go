package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/Nyukimin/relayclaw/internal/domain/news"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

// mockChannel はテスト用のAMQPチャンネル
type mockChannel struct {
	sent   *[]published
	err    error
	closed bool
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if m.err != nil {
		return m.err
	}
	*m.sent = append(*m.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

func newTestPublisher(publishErr error) (*Publisher, *[]published, *[]*mockChannel) {
	var sent []published
	var channels []*mockChannel
	open := func() (channel, error) {
		ch := &mockChannel{sent: &sent, err: publishErr}
		channels = append(channels, ch)
		return ch, nil
	}
	return newPublisher("relayclaw", open, nil, zerolog.Nop()), &sent, &channels
}

var at = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestPublisher_Evaluate(t *testing.T) {
	p, sent, channels := newTestPublisher(nil)

	agent := identity.MustCorrelate("tg-user", "999")
	room := identity.MustCorrelate("tg-room", "42", agent.String())
	parent := identity.MustCorrelate("tg-message", "1")
	r, err := conversation.NewRecord(
		identity.MustCorrelate("tg-message", "2"), agent, identity.MustCorrelate("tg-user", "42"), room,
		conversation.Content{Text: "salut", Source: conversation.SourceTelegram, InReplyTo: &parent}, at,
	)
	require.NoError(t, err)

	require.NoError(t, p.Evaluate(context.Background(), r))
	require.Len(t, *sent, 1)

	got := (*sent)[0]
	assert.Equal(t, "relayclaw", got.exchange)
	assert.Equal(t, KeyRecordCreated, got.key)
	assert.Equal(t, r.ID.String(), got.msg.MessageId)
	assert.Equal(t, room.String(), got.msg.CorrelationId)
	assert.Equal(t, amqp091.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)

	var env Envelope
	require.NoError(t, json.Unmarshal(got.msg.Body, &env))
	assert.Equal(t, KeyRecordCreated, env.Type)
	assert.True(t, env.OccurredAt.Equal(at))

	var payload recordPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "salut", payload.Text)
	assert.Equal(t, parent.String(), payload.InReplyTo)

	assert.True(t, (*channels)[0].closed)
}

func TestPublisher_PublishOutcome(t *testing.T) {
	candidate := news.Candidate{
		Channel: news.ChannelWatch{ChannelRef: "-100001", DisplayName: "Watcher Guru"},
		Message: transport.Message{ExternalID: "42", Text: "BTC  hits $70k"},
	}

	tests := []struct {
		name    string
		outcome news.Outcome
		wantKey string
		wantID  string
	}{
		{
			name: "published",
			outcome: news.Outcome{
				TickID: "01TICK", Candidate: candidate, Verdict: news.Novel(),
				Result: news.Published("7"), RecordID: "rec-1", At: at,
			},
			wantKey: KeyNewsPublished,
			wantID:  "rec-1",
		},
		{
			name: "suppressed",
			outcome: news.Outcome{
				TickID: "01TICK", Candidate: candidate, Verdict: news.AlreadyProcessed("same story"),
				Result: news.Suppressed(news.ReasonDuplicate), At: at,
			},
			wantKey: KeyNewsSuppressed,
			wantID:  "01TICK:-100001:42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sent, _ := newTestPublisher(nil)
			require.NoError(t, p.PublishOutcome(context.Background(), tt.outcome))
			require.Len(t, *sent, 1)

			got := (*sent)[0]
			assert.Equal(t, tt.wantKey, got.key)
			assert.Equal(t, tt.wantID, got.msg.MessageId)
			assert.Equal(t, "01TICK", got.msg.CorrelationId)

			var env Envelope
			require.NoError(t, json.Unmarshal(got.msg.Body, &env))
			var payload outcomePayload
			require.NoError(t, json.Unmarshal(env.Payload, &payload))
			assert.Equal(t, "BTC hits $70k", payload.Text)
			assert.Equal(t, tt.outcome.Result.IsPublished(), payload.Published)
			assert.Equal(t, tt.outcome.Verdict.IsNovel(), payload.Novel)
		})
	}
}

func TestPublisher_PublishError(t *testing.T) {
	p, _, channels := newTestPublisher(errors.New("channel closed"))
	err := p.PublishOutcome(context.Background(), news.Outcome{TickID: "t", Result: news.Suppressed("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyNewsSuppressed)
	assert.True(t, (*channels)[0].closed)
}

func TestPublisher_OpenError(t *testing.T) {
	p := newPublisher("x", func() (channel, error) { return nil, errors.New("conn closed") }, nil, zerolog.Nop())
	err := p.Evaluate(context.Background(), conversation.Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open amqp channel")
	assert.NoError(t, p.Close())
}
