package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/grip-agent/grip/internal/config"
)

// Slack is the Socket Mode Slack channel. It answers direct messages and
// @-mentions; other channel traffic is ignored.
type Slack struct {
	cfg       config.SlackConfig
	responder *Responder
	logger    *slog.Logger
	client    *slack.Client
	botUserID string
}

// NewSlack builds the Slack channel.
func NewSlack(cfg config.SlackConfig, responder *Responder, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		cfg:       cfg,
		responder: responder,
		logger:    logger.With("component", "channels", "channel", "slack"),
	}
}

func (s *Slack) Name() string { return "slack" }

// Start opens the socket mode connection and blocks until ctx is cancelled.
func (s *Slack) Start(ctx context.Context) error {
	client := slack.New(s.cfg.BotToken.Value(), slack.OptionAppLevelToken(s.cfg.AppToken.Value()))
	auth, err := client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.client = client
	s.botUserID = auth.UserID

	socketClient := socketmode.New(client, socketmode.OptionDebug(false))
	go func() {
		if err := socketClient.RunContext(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("socket mode stopped", "error", err)
		}
	}()
	s.logger.Info("slack channel started", "bot_user", s.botUserID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-socketClient.Events:
			if !ok {
				return nil
			}
			switch event.Type {
			case socketmode.EventTypeConnectionError:
				s.logger.Warn("slack connection error", "data", event.Data)
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*event.Request)
				s.handleEventsAPI(ctx, apiEvent)
			}
		}
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		text := strings.TrimSpace(strings.ReplaceAll(ev.Text, fmt.Sprintf("<@%s>", s.botUserID), ""))
		s.reply(ctx, ev.Channel, text)
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" || ev.User == s.botUserID {
			return
		}
		// Channel messages arrive through AppMentionEvent; here only DMs.
		if !strings.HasPrefix(ev.Channel, "D") {
			return
		}
		s.reply(ctx, ev.Channel, ev.Text)
	}
}

func (s *Slack) reply(ctx context.Context, channelID, text string) {
	if text == "" {
		return
	}
	response := s.responder.Respond(ctx, "slack:"+channelID, text)
	if _, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(response, false)); err != nil {
		s.logger.Error("send failed", "channel", channelID, "error", err)
	}
}

// SendMessage pushes text to a channel outside the request cycle.
func (s *Slack) SendMessage(ctx context.Context, channelID, text string) error {
	if s.client == nil {
		return fmt.Errorf("slack channel not started")
	}
	_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}
