package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/grip-agent/grip/internal/config"
)

// Telegram is the long-polling Telegram channel.
type Telegram struct {
	cfg       config.TelegramConfig
	responder *Responder
	logger    *slog.Logger
	bot       *bot.Bot
}

// NewTelegram builds the Telegram channel.
func NewTelegram(cfg config.TelegramConfig, responder *Responder, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		cfg:       cfg,
		responder: responder,
		logger:    logger.With("component", "channels", "channel", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects the bot and polls until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	b, err := bot.New(t.cfg.Token.Value(), bot.WithDefaultHandler(t.handle))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	t.bot = b
	t.logger.Info("telegram channel started")
	b.Start(ctx)
	return nil
}

func (t *Telegram) handle(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}
	msg := update.Message
	userID := strconv.FormatInt(msg.From.ID, 10)
	if !allowed(t.cfg.AllowFrom, userID, msg.From.Username) {
		t.logger.Warn("message from unlisted sender dropped", "user", userID)
		return
	}

	sessionKey := fmt.Sprintf("telegram:%d", msg.Chat.ID)
	reply := t.responder.Respond(ctx, sessionKey, msg.Text)
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		t.logger.Error("send failed", "chat", msg.Chat.ID, "error", err)
	}
}

// SendMessage pushes text to a chat outside the request cycle.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram channel not started")
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

// SendFile uploads a document to a chat.
func (t *Telegram) SendFile(ctx context.Context, chatID int64, path string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram channel not started")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = t.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &tgmodels.InputFileUpload{Filename: filepath.Base(path), Data: f},
	})
	return err
}
