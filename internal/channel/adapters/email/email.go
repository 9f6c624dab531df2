// Package email delivers outbound messages as Mailgun emails.
package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	mg "github.com/mailgun/mailgun-go/v5"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Type is the registered channel type of this adapter.
const Type = channel.TypeEmail

const defaultSubject = "New message"

type Adapter struct {
	logger *slog.Logger
}

var (
	_ channel.Adapter = (*Adapter)(nil)
	_ channel.Sender  = (*Adapter)(nil)
)

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{logger: log.With(slog.String("adapter", "email"))}
}

func (a *Adapter) Type() channel.ChannelType { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:         Type,
		DisplayName:  "Email",
		Capabilities: channel.Capabilities{Text: true, Media: true, Reply: true},
	}
}

func newClient(cfg *channel.EmailConfig) *mg.Client {
	client := mg.NewMailgun(cfg.APIKey)
	if cfg.Region == "eu" {
		client.SetAPIBase(mg.APIBaseEU)
	}
	return client
}

// Send mails msg to the address in msg.To. ReplyTo threads the mail under a
// previous Message-Id.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Email
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing email config", channel.ErrInvalidConfig)
	}
	if !strings.Contains(msg.To, "@") {
		return channel.SendReceipt{}, fmt.Errorf("%w: recipient must be an email address", channel.ErrInvalidMessage)
	}
	subject, text, htmlBody := compose(msg)
	m := mg.NewMessage(cfg.Domain, cfg.From, subject, text, msg.To)
	if htmlBody != "" {
		m.SetHTML(htmlBody)
	}
	if msg.ReplyTo != "" {
		m.AddHeader("In-Reply-To", msg.ReplyTo)
		m.AddHeader("References", msg.ReplyTo)
	}
	m.AddHeader("X-Channel-Id", ch.ID)

	resp, err := newClient(cfg).Send(ctx, m)
	if err != nil {
		a.logger.Warn("mailgun send failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
		return channel.SendReceipt{}, fmt.Errorf("mailgun send: %w", err)
	}
	return channel.SendReceipt{
		MessageID: resp.ID,
		Raw:       map[string]any{"id": resp.ID, "message": resp.Message},
	}, nil
}

// compose renders the subject, plain body and optional HTML body of msg.
func compose(msg channel.OutboundMessage) (string, string, string) {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = defaultSubject
	}
	text := msg.PlainText()
	if !msg.IsMedia() {
		return subject, text, ""
	}
	var b strings.Builder
	caption := strings.TrimSpace(msg.Caption)
	if caption != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(caption))
	}
	link := html.EscapeString(msg.MediaURL)
	if msg.Type == channel.MessageImage {
		fmt.Fprintf(&b, `<p><img src="%s" alt="%s"></p>`, link, html.EscapeString(caption))
	} else {
		name := msg.FileName
		if name == "" {
			name = msg.Type
		}
		fmt.Fprintf(&b, `<p><a href="%s">%s</a></p>`, link, html.EscapeString(name))
	}
	return subject, text, b.String()
}
