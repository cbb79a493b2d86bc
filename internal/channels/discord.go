package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bwmarrin/discordgo"

	"github.com/grip-agent/grip/internal/config"
)

// Discord is the Discord gateway channel.
type Discord struct {
	cfg       config.DiscordConfig
	responder *Responder
	logger    *slog.Logger
	session   *discordgo.Session
}

// NewDiscord builds the Discord channel.
func NewDiscord(cfg config.DiscordConfig, responder *Responder, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:       cfg,
		responder: responder,
		logger:    logger.With("component", "channels", "channel", "discord"),
	}
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway connection and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.cfg.Token.Value())
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(d.handleMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.session = session
	d.logger.Info("discord channel started")

	<-ctx.Done()
	return session.Close()
}

func (d *Discord) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if !allowed(d.cfg.AllowFrom, m.Author.ID, m.Author.Username) {
		d.logger.Warn("message from unlisted sender dropped", "user", m.Author.ID)
		return
	}

	sessionKey := "discord:" + m.ChannelID
	reply := d.responder.Respond(context.Background(), sessionKey, m.Content)
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		d.logger.Error("send failed", "channel", m.ChannelID, "error", err)
	}
}

// SendMessage pushes text to a channel outside the request cycle.
func (d *Discord) SendMessage(ctx context.Context, channelID, text string) error {
	if d.session == nil {
		return fmt.Errorf("discord channel not started")
	}
	_, err := d.session.ChannelMessageSend(channelID, text)
	return err
}

// SendFile uploads a file to a channel.
func (d *Discord) SendFile(ctx context.Context, channelID, path string) error {
	if d.session == nil {
		return fmt.Errorf("discord channel not started")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = d.session.ChannelFileSend(channelID, path, f)
	return err
}
