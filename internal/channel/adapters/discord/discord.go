package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Type is the registered channel type of this adapter.
const Type = channel.TypeDiscord

const maxMessageLength = 2000

// messageSender is the REST subset of *discordgo.Session used to send.
type messageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter posts messages through the Discord REST API. It never opens a
// gateway connection; sessions are cached per bot token.
type Adapter struct {
	logger     *slog.Logger
	mu         sync.Mutex
	sessions   map[string]messageSender
	newSession func(token string) (messageSender, error)
}

var (
	_ channel.Adapter = (*Adapter)(nil)
	_ channel.Sender  = (*Adapter)(nil)
)

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "discord")),
		sessions: make(map[string]messageSender),
		newSession: func(token string) (messageSender, error) {
			return discordgo.New("Bot " + token)
		},
	}
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.Capabilities{
			Text:   true,
			Media:  true,
			Reply:  true,
			Groups: true,
		},
	}
}

func (a *Adapter) getOrCreateSession(token string) (messageSender, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[token]; ok {
		return s, nil
	}
	s, err := a.newSession(token)
	if err != nil {
		return nil, err
	}
	a.sessions[token] = s
	return s, nil
}

// Send posts msg to the Discord channel id in msg.To.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Discord
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing discord config", channel.ErrInvalidConfig)
	}
	session, err := a.getOrCreateSession(cfg.BotToken)
	if err != nil {
		a.logger.Error("create session failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
		return channel.SendReceipt{}, err
	}
	sent, err := session.ChannelMessageSendComplex(msg.To, buildMessage(msg), discordgo.WithContext(ctx))
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("discord send: %w", err)
	}
	return channel.SendReceipt{
		MessageID: sent.ID,
		Raw:       map[string]any{"id": sent.ID, "channel_id": sent.ChannelID},
	}, nil
}

func buildMessage(msg channel.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{}
	if msg.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.To}
	}
	if msg.Type == channel.MessageImage && msg.MediaURL != "" {
		data.Content = truncateText(strings.TrimSpace(msg.Caption))
		data.Embeds = []*discordgo.MessageEmbed{{Image: &discordgo.MessageEmbedImage{URL: msg.MediaURL}}}
		return data
	}
	data.Content = truncateText(msg.PlainText())
	return data
}

func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLength-3]) + "..."
}
