package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/Nyukimin/relayclaw/internal/domain/llm"
	"github.com/Nyukimin/relayclaw/internal/domain/news"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

// mockLLMProvider はテスト用のLLMProvider
type mockLLMProvider struct {
	response string
	err      error
	requests []llm.GenerateRequest
}

func (m *mockLLMProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return llm.GenerateResponse{}, m.err
	}
	return llm.GenerateResponse{Content: m.response}, nil
}

func (m *mockLLMProvider) Name() string {
	return "mock"
}

func (m *mockLLMProvider) lastPrompt() string {
	if len(m.requests) == 0 {
		return ""
	}
	msgs := m.requests[len(m.requests)-1].Messages
	return msgs[len(msgs)-1].Content
}

var testProfile = conversation.AgentProfile{
	Name:     "Relay",
	Username: "@relaybot",
	Bio:      []string{"Crypto news desk."},
	Lore:     []string{"Never sleeps."},
}

func newTestOracle(p *mockLLMProvider) *LLMOracle {
	return NewLLMOracle(p, Options{Agent: testProfile}, zerolog.Nop())
}

func testCandidate(text string) news.Candidate {
	return news.Candidate{
		Channel: news.ChannelWatch{ChannelRef: "-1001", DisplayName: "Watcher Guru"},
		Message: transport.Message{ExternalID: "42", Text: text},
	}
}

func TestClassifyNovelty(t *testing.T) {
	tests := []struct {
		response   string
		wantNovel  bool
		wantReason string
		wantErr    bool
	}{
		{"TRUE", true, "", false},
		{"  \"TRUE\".  ", true, "", false},
		{"**TRUE**", true, "", false},
		{"true", true, "", false},
		{"FALSE - same ETF approval story", false, "same ETF approval story", false},
		{"**FALSE** - duplicate of item 2", false, "duplicate of item 2", false},
		{"FALSE", false, "no reason given", false},
		{"I think this might be new", false, "ambiguous oracle output", true},
		{"", false, "ambiguous oracle output", true},
		{"TRUEISH", false, "ambiguous oracle output", true},
	}

	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			p := &mockLLMProvider{response: tt.response}
			v, err := newTestOracle(p).ClassifyNovelty(context.Background(), testCandidate("BTC hits $70k"), []string{"ETH ETF approved"})

			if tt.wantErr {
				assert.ErrorIs(t, err, news.ErrAmbiguousVerdict)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantNovel, v.IsNovel())
			assert.Equal(t, tt.wantReason, v.Reason())
		})
	}
}

func TestClassifyNovelty_PromptContainsHistory(t *testing.T) {
	p := &mockLLMProvider{response: "TRUE"}
	_, err := newTestOracle(p).ClassifyNovelty(context.Background(), testCandidate("  BTC   hits $70k "), []string{"ETH ETF approved", "SOL outage"})
	require.NoError(t, err)

	prompt := p.lastPrompt()
	assert.Contains(t, prompt, "BTC hits $70k")
	assert.Contains(t, prompt, "1. ETH ETF approved")
	assert.Contains(t, prompt, "2. SOL outage")
	assert.Contains(t, prompt, "# About Relay")
	assert.Contains(t, prompt, "Username: @relaybot")
	assert.NotContains(t, prompt, "@@relaybot")
	assert.Equal(t, 0.0, p.requests[0].Temperature)
}

func TestClassifyNovelty_ProviderError(t *testing.T) {
	p := &mockLLMProvider{err: errors.New("503")}
	_, err := newTestOracle(p).ClassifyNovelty(context.Background(), testCandidate("x"), []string{"y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify via mock")
}

func TestTransformForRepost(t *testing.T) {
	tests := []struct {
		response string
		wantSkip bool
		wantText string
	}{
		{"🚀 Le BTC atteint 70k $", false, "🚀 Le BTC atteint 70k $"},
		{"IGNORE", true, ""},
		{"\"IGNORE\"", true, ""},
		{"**IGNORE**.", true, ""},
		{"   ", true, ""},
		{"IGNORE the noise: 🚀 BTC up", false, "IGNORE the noise: 🚀 BTC up"},
	}

	for _, tt := range tests {
		p := &mockLLMProvider{response: tt.response}
		out, err := newTestOracle(p).TransformForRepost(context.Background(), testCandidate("BTC hits $70k"))
		require.NoError(t, err)
		assert.Equal(t, tt.wantSkip, out.IsSkip(), "response %q", tt.response)
		if !tt.wantSkip {
			assert.Equal(t, tt.wantText, out.Text())
		}
	}
}

func TestTransformForRepost_Prompt(t *testing.T) {
	p := &mockLLMProvider{response: "ok"}
	o := NewLLMOracle(p, Options{Agent: testProfile, MaxRepostChars: 280}, zerolog.Nop())
	_, err := o.TransformForRepost(context.Background(), testCandidate("BTC hits $70k"))
	require.NoError(t, err)

	prompt := p.lastPrompt()
	assert.Contains(t, prompt, "into French")
	assert.Contains(t, prompt, "280 characters")
	assert.Contains(t, prompt, "News from Watcher Guru")
	assert.Contains(t, prompt, `"IGNORE"`)
}

func TestQualifyNews(t *testing.T) {
	p := &mockLLMProvider{response: "FALSE - promotional content"}
	ok, why, err := newTestOracle(p).QualifyNews(context.Background(), testCandidate("Join our giveaway"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "promotional content", why)

	p.response = "TRUE"
	ok, _, err = newTestOracle(p).QualifyNews(context.Background(), testCandidate("Fed cuts rates"))
	require.NoError(t, err)
	assert.True(t, ok)

	p.response = "maybe"
	_, _, err = newTestOracle(p).QualifyNews(context.Background(), testCandidate("?"))
	assert.ErrorIs(t, err, news.ErrAmbiguousVerdict)
}

func testState(text string) *conversation.State {
	agent := identity.MustCorrelate("tg-user", "999")
	user := identity.MustCorrelate("tg-user", "42")
	room := identity.MustCorrelate("tg-room", "42", agent.String())
	mk := func(id string, from identity.CorrelationID, text string) conversation.Record {
		return conversation.Record{
			ID: identity.MustCorrelate("tg-message", id), AgentID: agent, UserID: from, RoomID: room,
			Content: conversation.Content{Text: text}, CreatedAt: time.Now(),
		}
	}
	current := mk("3", user, text)
	history := []conversation.Record{current, mk("2", agent, "Bonjour !"), mk("1", user, "salut")}
	return conversation.NewState(conversation.AgentProfile{}, "Crypto FR", "Alice", history, current)
}

func TestGenerateReply(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantNil    bool
		wantText   string
		wantAction string
	}{
		{"json", `{"text": "Le BTC monte.", "action": "none"}`, false, "Le BTC monte.", "NONE"},
		{"fenced json", "```json\n{\"text\": \"Oui\", \"action\": \"CONTINUE\"}\n```", false, "Oui", "CONTINUE"},
		{"plain text", "Just a plain answer", false, "Just a plain answer", ""},
		{"ignore action", `{"text": "", "action": "IGNORE"}`, true, "", ""},
		{"ignore sentinel", "IGNORE", true, "", ""},
		{"empty", "   ", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockLLMProvider{response: tt.response}
			content, err := newTestOracle(p).GenerateReply(context.Background(), testState("et l'ETH ?"))
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, content)
				return
			}
			require.NotNil(t, content)
			assert.Equal(t, tt.wantText, content.Text)
			assert.Equal(t, tt.wantAction, content.Action)
		})
	}
}

func TestGenerateReply_PromptCarriesConversation(t *testing.T) {
	p := &mockLLMProvider{response: "ok"}
	_, err := newTestOracle(p).GenerateReply(context.Background(), testState("et l'ETH ?"))
	require.NoError(t, err)

	prompt := p.lastPrompt()
	assert.Contains(t, prompt, "# Conversation in Crypto FR")
	assert.Contains(t, prompt, "User: salut")
	assert.Contains(t, prompt, "Relay: Bonjour !")
	assert.Contains(t, prompt, "Alice: et l'ETH ?")
	assert.Less(t, strings.Index(prompt, "User: salut"), strings.Index(prompt, "Relay: Bonjour !"))
	assert.Contains(t, prompt, "Telegram conversation")
}
