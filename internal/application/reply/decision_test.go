package reply

import (
	"testing"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

var testSelf = transport.Account{Ref: "999", Username: "relaybot", FirstName: "Relay"}

func TestShouldRespond(t *testing.T) {
	tests := []struct {
		name string
		ev   conversation.InboundEvent
		want bool
	}{
		{
			name: "direct, not a reply",
			ev:   conversation.InboundEvent{ChatKind: conversation.ChatDirect, Text: "hello"},
			want: true,
		},
		{
			name: "group, no mention, not a reply",
			ev:   conversation.InboundEvent{ChatKind: conversation.ChatGroup, Text: "hello all"},
			want: false,
		},
		{
			name: "group with mention",
			ev:   conversation.InboundEvent{ChatKind: conversation.ChatGroup, Text: "hey @relaybot"},
			want: true,
		},
		{
			name: "group with mention in other case",
			ev:   conversation.InboundEvent{ChatKind: conversation.ChatGroup, Text: "hey @RELAYBOT"},
			want: true,
		},
		{
			name: "reply to self in group",
			ev: conversation.InboundEvent{
				ChatKind: conversation.ChatGroup,
				Text:     "really?",
				ReplyTo:  &conversation.ReplyRef{ExternalID: "5", SenderRef: "999"},
			},
			want: true,
		},
		{
			name: "reply to self in channel",
			ev: conversation.InboundEvent{
				ChatKind: conversation.ChatChannel,
				Text:     "really?",
				ReplyTo:  &conversation.ReplyRef{ExternalID: "5", SenderRef: "999"},
			},
			want: true,
		},
		{
			name: "reply to someone else in group",
			ev: conversation.InboundEvent{
				ChatKind: conversation.ChatGroup,
				Text:     "really?",
				ReplyTo:  &conversation.ReplyRef{ExternalID: "5", SenderRef: "123"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRespond(tt.ev, testSelf); got != tt.want {
				t.Errorf("ShouldRespond() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccept(t *testing.T) {
	base := conversation.InboundEvent{
		SenderRef:  "42",
		SenderKind: conversation.SenderUser,
		ChatKind:   conversation.ChatGroup,
		Text:       "gm",
	}

	tests := []struct {
		name   string
		modify func(ev *conversation.InboundEvent)
		want   bool
	}{
		{"group user message", func(ev *conversation.InboundEvent) {}, true},
		{"direct message", func(ev *conversation.InboundEvent) { ev.ChatKind = conversation.ChatDirect }, true},
		{"empty text", func(ev *conversation.InboundEvent) { ev.Text = "  \n" }, false},
		{"bot sender", func(ev *conversation.InboundEvent) { ev.SenderKind = conversation.SenderBot }, false},
		{"channel sender", func(ev *conversation.InboundEvent) { ev.SenderKind = conversation.SenderChannel }, false},
		{"own message", func(ev *conversation.InboundEvent) { ev.SenderRef = "999" }, false},
		{"channel not addressed", func(ev *conversation.InboundEvent) { ev.ChatKind = conversation.ChatChannel }, false},
		{"channel with mention", func(ev *conversation.InboundEvent) {
			ev.ChatKind = conversation.ChatChannel
			ev.Text = "@relaybot thoughts?"
		}, true},
		{"unknown chat kind", func(ev *conversation.InboundEvent) { ev.ChatKind = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.modify(&ev)
			if got := Accept(ev, testSelf); got != tt.want {
				t.Errorf("Accept() = %v, want %v", got, tt.want)
			}
		})
	}
}
