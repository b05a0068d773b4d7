package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// api はクライアントが使うDiscordの操作
type api interface {
	Me(ctx context.Context) (*discordgo.User, error)
	Channels(ctx context.Context) ([]*discordgo.Channel, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	Messages(ctx context.Context, channelID string, limit int) ([]*discordgo.Message, error)
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	Typing(ctx context.Context, channelID string) error
	Listen(ctx context.Context, handle func(*discordgo.Message)) error
}

// sessionAPI はdiscordgo.Sessionをapiに合わせる
type sessionAPI struct {
	s *discordgo.Session
}

func newSessionAPI(token string) (*sessionAPI, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &sessionAPI{s: s}, nil
}

func (a *sessionAPI) Me(ctx context.Context) (*discordgo.User, error) {
	return a.s.User("@me", discordgo.WithContext(ctx))
}

func (a *sessionAPI) Channels(ctx context.Context) ([]*discordgo.Channel, error) {
	guilds, err := a.s.UserGuilds(200, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	var out []*discordgo.Channel
	for _, g := range guilds {
		channels, err := a.s.GuildChannels(g.ID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list channels of guild %s: %w", g.ID, err)
		}
		out = append(out, channels...)
	}
	return out, nil
}

func (a *sessionAPI) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, err := a.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return a.s.Channel(channelID, discordgo.WithContext(ctx))
}

func (a *sessionAPI) Messages(ctx context.Context, channelID string, limit int) ([]*discordgo.Message, error) {
	return a.s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
}

func (a *sessionAPI) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	return a.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
}

func (a *sessionAPI) Typing(ctx context.Context, channelID string) error {
	return a.s.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// Listen はゲートウェイに接続し、ctx終了まで MessageCreate を handle に渡す
func (a *sessionAPI) Listen(ctx context.Context, handle func(*discordgo.Message)) error {
	remove := a.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		handle(m.Message)
	})
	defer remove()

	if err := a.s.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	<-ctx.Done()
	if err := a.s.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	return ctx.Err()
}
