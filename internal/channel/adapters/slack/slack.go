package slack

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
const Type = channel.TypeSlack

const (
	defaultBaseURL = "https://slack.com/api"
	defaultTimeout = 15 * time.Second
	maxReplyBytes  = 64 << 10
)

// Options configures the adapter. Zero values use the public Slack API.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// Adapter posts messages with the Web API chat.postMessage method.
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
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Adapter{
		baseURL:    base,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     log.With(slog.String("adapter", "slack")),
	}
}

func (a *Adapter) Type() channel.ChannelType { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Slack",
		Capabilities: channel.Capabilities{
			Text:   true,
			Media:  true,
			Reply:  true,
			Groups: true,
		},
	}
}

type postMessage struct {
	Channel     string  `json:"channel"`
	Text        string  `json:"text"`
	ThreadTS    string  `json:"thread_ts,omitempty"`
	UnfurlLinks bool    `json:"unfurl_links"`
	Blocks      []block `json:"blocks,omitempty"`
}

type block struct {
	Type     string     `json:"type"`
	Text     *textBlock `json:"text,omitempty"`
	ImageURL string     `json:"image_url,omitempty"`
	AltText  string     `json:"alt_text,omitempty"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type postMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

// Send posts msg to the channel or user id in msg.To. ReplyTo is a thread ts.
func (a *Adapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	cfg := ch.Config.Slack
	if cfg == nil {
		return channel.SendReceipt{}, fmt.Errorf("%w: missing slack config", channel.ErrInvalidConfig)
	}
	payload := buildPayload(msg)
	body, err := json.Marshal(payload)
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+cfg.BotToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.SendReceipt{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if resp.StatusCode != http.StatusOK {
		return channel.SendReceipt{}, fmt.Errorf("slack API returned %d: %s", resp.StatusCode, string(respBody))
	}

	// Slack answers 200 on application errors; ok carries the result.
	var out postMessageResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return channel.SendReceipt{}, fmt.Errorf("decoding response: %w", err)
	}
	if !out.OK {
		a.logger.Warn("post message rejected", slog.String("channel_id", ch.ID), slog.String("error", out.Error))
		return channel.SendReceipt{}, fmt.Errorf("slack API error: %s", out.Error)
	}
	return channel.SendReceipt{
		MessageID: out.TS,
		Raw:       map[string]any{"channel": out.Channel, "ts": out.TS},
	}, nil
}

func buildPayload(msg channel.OutboundMessage) postMessage {
	payload := postMessage{
		Channel:     msg.To,
		Text:        msg.PlainText(),
		ThreadTS:    msg.ReplyTo,
		UnfurlLinks: msg.PreviewURL,
	}
	if msg.Subject != "" {
		payload.Text = fmt.Sprintf("*%s*\n%s", msg.Subject, payload.Text)
	}
	if msg.Type == channel.MessageImage && msg.MediaURL != "" {
		alt := msg.Caption
		if alt == "" {
			alt = "image"
		}
		if msg.Caption != "" {
			payload.Blocks = append(payload.Blocks, block{Type: "section", Text: &textBlock{Type: "mrkdwn", Text: msg.Caption}})
		}
		payload.Blocks = append(payload.Blocks, block{Type: "image", ImageURL: msg.MediaURL, AltText: alt})
	}
	return payload
}
