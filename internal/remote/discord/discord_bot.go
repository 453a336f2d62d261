package discord

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type Bot struct {
	discordSession *discordgo.Session
	channelID      string
	admins         []string
	status         func() string
}

func NewBot(token, channelID string, admins []string, status func() string) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	return &Bot{
		discordSession: dg,
		channelID:      channelID,
		admins:         admins,
		status:         status,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.discordSession.AddHandler(b.onMessageCreated)
	b.discordSession.Identify.Intents = discordgo.IntentsGuildMessages

	if err := b.discordSession.Open(); err != nil {
		return fmt.Errorf("error opening Discord connection: %w", err)
	}

	<-ctx.Done()

	return b.discordSession.Close()
}

func (b *Bot) onMessageCreated(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.ChannelID != b.channelID {
		return
	}
	if len(b.admins) > 0 && !slices.Contains(b.admins, m.Author.ID) {
		return
	}

	switch strings.ToLower(strings.TrimSpace(m.Content)) {
	case "!status":
		if b.status != nil {
			_, _ = s.ChannelMessageSend(b.channelID, b.status())
		}
	}
}
