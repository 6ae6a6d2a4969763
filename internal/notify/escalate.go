package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink forwards administrator alerts to a Telegram chat.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramSink connects to the Telegram Bot API with the given token.
func NewTelegramSink(token string, chatID int64, logger *slog.Logger) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram sink: %w", err)
	}
	logger.Info("telegram escalation sink ready", "bot", bot.Self.UserName, "chat_id", chatID)
	return &TelegramSink{bot: bot, chatID: chatID, logger: logger}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Alert(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// DiscordSink forwards administrator alerts to a Discord channel. Alerts go
// over the REST API only; no gateway session is opened.
type DiscordSink struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

// NewDiscordSink creates a sink posting into the given channel.
func NewDiscordSink(token, channelID string, logger *slog.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord sink: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID, logger: logger}, nil
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Alert(ctx context.Context, text string) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, text); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
