// Package notify delivers alerts and answers operator commands over
// Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds Telegram connection settings.
type Config struct {
	Token   string        `yaml:"token"`
	ChatID  int64         `yaml:"chat_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns settings that still require a token and chat id.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// TelegramNotifier sends plain-text messages to a single chat. Plain text
// because raw SQL fragments break Telegram markup parsing.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram authorizes the bot token and returns a notifier. The
// underlying HTTP client is bounded by cfg.Timeout per request.
func NewTelegram(cfg Config, logger *slog.Logger) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("notify: telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify: telegram chat id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: authorize telegram bot: %w", err)
	}

	logger.Info("telegram notifier authorized",
		"username", api.Self.UserName,
		"chat_id", cfg.ChatID,
	)

	return &TelegramNotifier{
		api:    api,
		chatID: cfg.ChatID,
		logger: logger,
	}, nil
}

// Send delivers text to the configured chat. The bot API carries no
// context, so cancellation is checked up front and the HTTP client
// timeout bounds the call itself.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("notify: send telegram message: %w", err)
	}
	return nil
}

// Check verifies the bot credentials are still accepted.
func (n *TelegramNotifier) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.api.GetMe(); err != nil {
		return fmt.Errorf("notify: telegram health check: %w", err)
	}
	return nil
}

// API exposes the underlying client so the command bot can share the
// authorized session.
func (n *TelegramNotifier) API() *tgbotapi.BotAPI {
	return n.api
}

// ChatID returns the configured destination chat.
func (n *TelegramNotifier) ChatID() int64 {
	return n.chatID
}
