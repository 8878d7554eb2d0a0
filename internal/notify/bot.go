package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// StatusProvider reports the monitor's current state for the /status
// command.
type StatusProvider interface {
	StatusText() string
}

// CommandBot answers /start and /status from the configured chat. Every
// other chat is ignored so the bot cannot be used as an oracle for what
// the monitor has seen.
type CommandBot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	status StatusProvider
	logger *slog.Logger
}

// NewCommandBot shares the notifier's authorized session.
func NewCommandBot(n *TelegramNotifier, status StatusProvider, logger *slog.Logger) *CommandBot {
	return &CommandBot{
		api:    n.API(),
		chatID: n.ChatID(),
		status: status,
		logger: logger,
	}
}

// Run polls for updates until ctx is cancelled.
func (b *CommandBot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("command bot listening", "chat_id", b.chatID)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("command bot stopped")
			return
		case update := <-updates:
			b.handle(update)
		}
	}
}

func (b *CommandBot) handle(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Warn("ignoring command from unexpected chat",
			"chat_id", msg.Chat.ID,
			"command", msg.Command(),
		)
		return
	}

	var reply string
	switch msg.Command() {
	case "start":
		reply = "SQL Sentry is watching the query log. Use /status for the current state."
	case "status":
		reply = b.status.StatusText()
	default:
		reply = fmt.Sprintf("Unknown command /%s. Available: /start, /status.", msg.Command())
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, reply)); err != nil {
		b.logger.Error("failed to answer command",
			"command", msg.Command(),
			"error", err,
		)
	}
}
