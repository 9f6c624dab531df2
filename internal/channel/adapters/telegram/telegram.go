package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Type is the registered channel type of this adapter.
const Type = channel.TypeTelegram

const defaultTimeout = 15 * time.Second

// Adapter delivers outbound messages through the Telegram Bot API. Bots are
// cached per token and endpoint so the getMe handshake runs once.
type Adapter struct {
	logger *slog.Logger
	client *http.Client
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI
}

var (
	_ channel.Adapter = (*Adapter)(nil)
	_ channel.Sender  = (*Adapter)(nil)
)

// NewAdapter creates a telegram adapter. A zero timeout uses 15s.
func NewAdapter(log *slog.Logger, timeout time.Duration) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	a := &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		client: &http.Client{Timeout: timeout},
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
	_ = tgbotapi.SetLogger(&slogBotLogger{log: a.logger})
	return a
}

func (a *Adapter) Type() channel.ChannelType {
	return Type
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			Text:   true,
			Media:  true,
			Reply:  true,
			Groups: true,
		},
	}
}

// Send delivers msg to a chat id or an @channel username.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Telegram
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing telegram config", channel.ErrInvalidConfig)
	}
	if err := ctx.Err(); err != nil {
		return channel.SendReceipt{}, err
	}
	bot, err := a.getOrCreateBot(cfg)
	if err != nil {
		a.logger.Error("create bot failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
		return channel.SendReceipt{}, err
	}
	chattable, err := buildChattable(msg)
	if err != nil {
		return channel.SendReceipt{}, err
	}
	sent, err := bot.Send(chattable)
	if err != nil {
		if wait, limited := IsTooManyRequests(err); limited {
			a.logger.Warn("rate limited", slog.String("channel_id", ch.ID), slog.Duration("retry_after", wait))
		}
		return channel.SendReceipt{}, fmt.Errorf("telegram send: %w", err)
	}
	receipt := channel.SendReceipt{
		MessageID: strconv.Itoa(sent.MessageID),
		Raw:       map[string]any{"message_id": sent.MessageID, "date": sent.Date},
	}
	if sent.Chat != nil {
		receipt.Raw["chat_id"] = sent.Chat.ID
	}
	return receipt, nil
}

func (a *Adapter) getOrCreateBot(cfg *channel.TelegramConfig) (*tgbotapi.BotAPI, error) {
	endpoint := apiEndpoint(cfg.APIEndpoint)
	key := cfg.BotToken + "|" + endpoint
	a.mu.RLock()
	bot, ok := a.bots[key]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[key]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, a.client)
	if err != nil {
		return nil, err
	}
	a.bots[key] = bot
	return bot, nil
}

// apiEndpoint turns a configured base URL into the bot API format string.
func apiEndpoint(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return tgbotapi.APIEndpoint
	}
	return base + "/bot%s/%s"
}

func baseChat(target string, replyTo string) (tgbotapi.BaseChat, error) {
	var chat tgbotapi.BaseChat
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "@") {
		chat.ChannelUsername = target
	} else {
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return chat, fmt.Errorf("%w: telegram target must be @username or chat_id", channel.ErrInvalidMessage)
		}
		chat.ChatID = id
	}
	if replyTo != "" {
		if id, err := strconv.Atoi(replyTo); err == nil && id > 0 {
			chat.ReplyToMessageID = id
		}
	}
	return chat, nil
}

func buildChattable(msg channel.OutboundMessage) (tgbotapi.Chattable, error) {
	chat, err := baseChat(msg.To, msg.ReplyTo)
	if err != nil {
		return nil, err
	}
	caption := truncateText(sanitizeText(msg.Caption), maxCaptionLength)
	file := tgbotapi.BaseFile{BaseChat: chat, File: tgbotapi.FileURL(msg.MediaURL)}
	switch msg.Type {
	case channel.MessageText, "":
		text := truncateText(sanitizeText(msg.Text), maxMessageLength)
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text is required", channel.ErrInvalidMessage)
		}
		return tgbotapi.MessageConfig{
			BaseChat:              chat,
			Text:                  text,
			DisableWebPagePreview: !msg.PreviewURL,
		}, nil
	case channel.MessageImage:
		return tgbotapi.PhotoConfig{BaseFile: file, Caption: caption}, nil
	case channel.MessageVideo:
		return tgbotapi.VideoConfig{BaseFile: file, Caption: caption}, nil
	case channel.MessageAudio:
		return tgbotapi.AudioConfig{BaseFile: file, Caption: caption}, nil
	case channel.MessageDocument:
		return tgbotapi.DocumentConfig{BaseFile: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", channel.ErrInvalidMessage, msg.Type)
	}
}

// IsTooManyRequests reports a rate-limit rejection and its retry hint.
func IsTooManyRequests(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return time.Duration(apiErr.RetryAfter) * time.Second, true
	}
	return 0, false
}

type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
