package discord

import (
	"context"
	"fmt"

	"github.com/micebot/micebot/internal/event"
)

// Handle publishes notable bot events to the configured channel.
func (b *Bot) Handle(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.ConnectionEvent:
		return b.sendEventMessage(fmt.Sprintf("**[%s]** %s", evt.Role, evt.Message()))
	case event.StaleWindowEvent:
		return b.sendEventMessage(evt.Message())
	case event.AIResponseEvent:
		if evt.Err != "" {
			return b.sendEventMessage(evt.Message())
		}
	case event.CommandFailedEvent:
		return b.sendEventMessage(evt.Message())
	}

	return nil
}

func (b *Bot) sendEventMessage(message string) error {
	_, err := b.discordSession.ChannelMessageSend(b.channelID, message)
	return err
}
