// Package call delivers text messages as synthesized voice calls through a
// REST calling provider.
package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Type is the registered channel type of this adapter.
const Type = channel.TypeCall

const (
	defaultTimeout = 15 * time.Second
	defaultVoice   = "female"
	defaultLocale  = "en-US"
	maxReplyBytes  = 16 << 10
)

// Options configures the adapter. BaseURL is used when a channel sets none.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

type Adapter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ channel.Adapter = (*Adapter)(nil)
	_ channel.Sender  = (*Adapter)(nil)
)

func NewAdapter(log *slog.Logger, opts Options) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Adapter{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     log.With(slog.String("adapter", "call")),
	}
}

func (a *Adapter) Type() channel.ChannelType { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:         Type,
		DisplayName:  "Voice call",
		Capabilities: channel.Capabilities{Text: true},
	}
}

type callRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Locale string `json:"locale"`
}

type callResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Send places a call to msg.To that reads the message text aloud.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Call
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing call config", channel.ErrInvalidConfig)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = a.baseURL
	}
	if base == "" {
		return channel.SendReceipt{}, fmt.Errorf("%w: call provider base url is not set", channel.ErrInvalidConfig)
	}
	text := msg.PlainText()
	if msg.Type != channel.MessageText && msg.Type != "" {
		// Attachments cannot be spoken; only the caption is read.
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return channel.SendReceipt{}, fmt.Errorf("%w: nothing to speak", channel.ErrInvalidMessage)
	}
	payload := callRequest{
		From:   cfg.From,
		To:     strings.TrimPrefix(msg.To, "+"),
		Text:   text,
		Voice:  firstNonEmpty(cfg.Voice, defaultVoice),
		Locale: firstNonEmpty(cfg.Locale, defaultLocale),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/calls", bytes.NewReader(body))
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("call rejected", slog.String("channel_id", ch.ID), slog.Int("status", resp.StatusCode))
		return channel.SendReceipt{}, fmt.Errorf("call API returned %d: %s", resp.StatusCode, string(respBody))
	}
	var out callResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return channel.SendReceipt{}, fmt.Errorf("decoding response: %w", err)
	}
	return channel.SendReceipt{
		MessageID: out.ID,
		Raw:       map[string]any{"id": out.ID, "status": out.Status},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
