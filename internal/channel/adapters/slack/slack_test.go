package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

func slackChannel() channel.Channel {
	return channel.Channel{ID: "sl-1", Type: channel.TypeSlack, Config: channel.Config{Slack: &channel.SlackConfig{BotToken: "xoxb-1"}}}
}

func newTestAdapter(baseURL string) *Adapter {
	return NewAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{BaseURL: baseURL})
}

func TestSendPostsMessage(t *testing.T) {
	t.Parallel()

	var got postMessage
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)
	}))
	defer srv.Close()

	receipt, err := newTestAdapter(srv.URL).Send(context.Background(), slackChannel(), channel.OutboundMessage{
		To: "C1", Type: channel.MessageText, Text: "deploy done", ReplyTo: "1699999999.000001",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if receipt.MessageID != "1700000000.000100" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if auth != "Bearer xoxb-1" || path != "/chat.postMessage" {
		t.Fatalf("unexpected request: auth=%q path=%q", auth, path)
	}
	if got.Channel != "C1" || got.Text != "deploy done" || got.ThreadTS != "1699999999.000001" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestSendReportsAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).Send(context.Background(), slackChannel(), channel.OutboundMessage{To: "C404", Type: channel.MessageText, Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestBuildPayloadImage(t *testing.T) {
	t.Parallel()

	payload := buildPayload(channel.OutboundMessage{To: "C1", Type: channel.MessageImage, MediaURL: "https://cdn.example.com/a.png", Caption: "chart"})
	if len(payload.Blocks) != 2 || payload.Blocks[1].ImageURL != "https://cdn.example.com/a.png" || payload.Blocks[1].AltText != "chart" {
		t.Fatalf("unexpected blocks: %+v", payload.Blocks)
	}
	if payload.Text != "chart\nhttps://cdn.example.com/a.png" {
		t.Fatalf("unexpected fallback text: %q", payload.Text)
	}
}
