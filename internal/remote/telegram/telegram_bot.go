package telegram

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/micebot/micebot/internal/event"
)

type Bot struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
	status func() string
}

// Start polls the configured chat for operator queries until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	offset, err := b.getLatestOffset()
	if err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(offset)
	u.Timeout = 5
	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			for range updates {
			}
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil && update.Message.Chat != nil && update.Message.Chat.ID == b.chatID {
				switch strings.ToLower(update.Message.Text) {
				case "status":
					if b.status != nil {
						b.send(b.status())
					}
				}
			}
		}
	}
}

// Handle forwards notable bot events to the configured chat.
func (b *Bot) Handle(_ context.Context, e event.Event) error {
	switch e.(type) {
	case event.ConnectionEvent, event.StaleWindowEvent, event.CommandFailedEvent:
		b.send(e.Message())
	}
	return nil
}

func (b *Bot) send(text string) {
	if text == "" {
		return
	}
	if _, err := b.bot.Send(tgbotapi.NewMessage(b.chatID, text)); err != nil {
		b.logger.Error("Telegram send failed", slog.Any("error", err))
	}
}

func (b *Bot) getLatestOffset() (int, error) {
	upds, err := b.bot.GetUpdates(tgbotapi.NewUpdate(-1))
	if err != nil {
		return 0, err
	}
	offset := 0
	if len(upds) > 0 {
		offset = upds[0].UpdateID + 1
	}
	return offset, nil
}
