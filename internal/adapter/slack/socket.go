package slack

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// eventSource はEvents APIのイベントを受け取る
type eventSource interface {
	Run(ctx context.Context, handle func(slackevents.EventsAPIEvent)) error
}

// socketSource はSocket Modeでイベントを受け取る
type socketSource struct {
	client *socketmode.Client
	logger zerolog.Logger
}

// Run は接続を維持し、受け取ったイベントをAckしてから handle に渡す
func (s *socketSource) Run(ctx context.Context, handle func(slackevents.EventsAPIEvent)) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.client.RunContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case evt, ok := <-s.client.Events:
			if !ok {
				return errors.New("slack event channel closed")
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				s.logger.Debug().Msg("connecting to socket mode")
			case socketmode.EventTypeConnected:
				s.logger.Info().Msg("connected to socket mode")
			case socketmode.EventTypeConnectionError:
				s.logger.Warn().Interface("data", evt.Data).Msg("socket mode connection error")
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					s.client.Ack(*evt.Request)
				}
				ev, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				handle(ev)
			}
		}
	}
}
