package conversation

import (
	"testing"
	"time"

	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundEventMentions(t *testing.T) {
	tests := []struct {
		text   string
		handle string
		want   bool
	}{
		{"hey @relaybot what's up", "relaybot", true},
		{"hey @RelayBot", "@relaybot", true},
		{"@relaybot", "relaybot", true},
		{"hey @relaybot_fan", "relaybot", false},
		{"hey @relaybotz and @relaybot.", "relaybot", true},
		{"relaybot without at", "relaybot", false},
		{"anything", "", false},
	}

	for _, tt := range tests {
		ev := InboundEvent{Text: tt.text}
		assert.Equal(t, tt.want, ev.Mentions(tt.handle), "Mentions(%q) in %q", tt.handle, tt.text)
	}
}

func TestInboundEventIsReplyTo(t *testing.T) {
	ev := InboundEvent{ReplyTo: &ReplyRef{ExternalID: "10", SenderRef: "999"}}
	assert.True(t, ev.IsReplyTo("999"))
	assert.False(t, ev.IsReplyTo("111"))
	assert.False(t, ev.IsReplyTo(""))

	assert.False(t, InboundEvent{}.IsReplyTo("999"))
}

func TestNewRecord(t *testing.T) {
	id := identity.MustCorrelate("tg-message", "room", "1", "agent")
	agent := identity.MustCorrelate("tg-user", "agent")
	user := identity.MustCorrelate("tg-user", "42")
	room := identity.MustCorrelate("tg-room", "7", "agent")

	r, err := NewRecord(id, agent, user, room, Content{Text: "hi", Source: SourceTelegram}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, id, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Len(t, r.Embedding, EmbeddingDimensions)
	for _, v := range r.Embedding {
		if v != 0 {
			t.Fatalf("embedding placeholder should be zero, got %v", v)
		}
	}

	_, err = NewRecord(identity.CorrelationID{}, agent, user, room, Content{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestContentIsEmpty(t *testing.T) {
	var nilContent *Content
	assert.True(t, nilContent.IsEmpty())
	assert.True(t, (&Content{Text: "   "}).IsEmpty())
	assert.False(t, (&Content{Text: "ok"}).IsEmpty())
	assert.False(t, (&Content{Attachments: []Attachment{{URL: "https://x/y.png"}}}).IsEmpty())
}

func TestQueryMatches(t *testing.T) {
	agent := identity.MustCorrelate("tg-user", "agent")
	room := identity.MustCorrelate("tg-room", "7", "agent")
	other := identity.MustCorrelate("tg-room", "8", "agent")
	now := time.Now()

	r := Record{AgentID: agent, RoomID: room, Content: Content{Source: SourceNews}, CreatedAt: now}

	assert.True(t, Query{}.Matches(r))
	assert.True(t, Query{AgentID: agent, RoomID: room, Source: SourceNews}.Matches(r))
	assert.False(t, Query{RoomID: other}.Matches(r))
	assert.False(t, Query{Source: SourceTelegram}.Matches(r))
	assert.False(t, Query{Since: now.Add(time.Minute)}.Matches(r))
}

func TestNewState(t *testing.T) {
	agent := identity.MustCorrelate("tg-user", "agent")
	user := identity.MustCorrelate("tg-user", "42")
	mk := func(n string) Record {
		return Record{ID: identity.MustCorrelate("tg-message", n), AgentID: agent, UserID: user}
	}
	current := mk("3")
	reply := Record{ID: identity.MustCorrelate("tg-message", "2"), AgentID: agent, UserID: agent}

	// 新しい順（current を含む）
	history := []Record{current, reply, mk("1")}
	s := NewState(AgentProfile{Name: "Relay", Username: "@relaybot"}, "Room", "Alice", history, current)

	require.Equal(t, 2, s.HistoryCount())
	assert.Equal(t, mk("1").ID, s.GetHistory()[0].ID)
	assert.Equal(t, reply.ID, s.GetHistory()[1].ID)
	assert.Len(t, s.GetRecentHistory(1), 1)
	assert.Nil(t, s.GetRecentHistory(0))
	assert.True(t, s.IsFromAgent(reply))
	assert.False(t, s.IsFromAgent(mk("1")))
	assert.Equal(t, "relaybot", s.Agent().Handle())
	assert.Equal(t, "Alice", s.SenderName())
}
