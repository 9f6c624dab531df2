// Package session implements the connection-backed session channel by
// speaking a JSON frame protocol to a WebSocket bridge sidecar that owns the
// WhatsApp-Web-protocol socket.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
)

const (
	defaultRequestTimeout = 30 * time.Second
	handshakeTimeout      = 15 * time.Second
)

// Options configures the bridge client.
type Options struct {
	BridgeURL      string
	Token          string
	RequestTimeout time.Duration
}

// Adapter dials one bridge socket per channel.
type Adapter struct {
	bridgeURL      string
	token          string
	requestTimeout time.Duration
	dialer         *websocket.Dialer
	logger         *slog.Logger
}

// NewAdapter creates a session adapter.
func NewAdapter(log *slog.Logger, opts Options) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Adapter{
		bridgeURL:      strings.TrimSpace(opts.BridgeURL),
		token:          opts.Token,
		requestTimeout: opts.RequestTimeout,
		dialer:         &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:         log.With(slog.String("adapter", "session")),
	}
}

// Type returns the session channel type.
func (a *Adapter) Type() channel.ChannelType {
	return channel.TypeSession
}

// Descriptor returns the session channel metadata.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:             channel.TypeSession,
		DisplayName:      "WhatsApp session",
		ConnectionBacked: true,
		Capabilities: channel.Capabilities{
			Text:        true,
			Media:       true,
			Reply:       true,
			Groups:      true,
			Inbound:     true,
			AddressBook: true,
		},
	}
}

// Connect dials the bridge, starts the connection, and sends session.start
// with the stored credentials. Transport events are delivered to sink.
func (a *Adapter) Connect(ctx context.Context, ch channel.Channel, state credentials.State, opts channel.ConnectOptions, sink channel.EventSink) (channel.Session, error) {
	if a.bridgeURL == "" {
		return nil, fmt.Errorf("session bridge url not configured")
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	dialURL, err := a.dialURL(ch.ID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if a.token != "" {
		header.Set("Authorization", "Bearer "+a.token)
	}
	ws, _, err := a.dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}

	conn := newConn(ws, ch.ID, sink, a.requestTimeout, a.logger.With(slog.String("channel_id", ch.ID)))
	conn.start()

	params := startParams{
		ChannelID:    ch.ID,
		PairingPhone: strings.TrimSpace(opts.PairingPhone),
	}
	if len(state.Creds) > 0 {
		params.Creds = credentials.Encode(state.Creds)
	}
	if len(state.Keys) > 0 {
		params.Keys = credentials.EncodeKeys(state.Keys)
	}
	if err := conn.call(ctx, methodSessionStart, params, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	a.logger.Info("session started", slog.String("channel_id", ch.ID), slog.Bool("fresh", state.Fresh))
	return conn, nil
}

func (a *Adapter) dialURL(channelID string) (string, error) {
	u, err := url.Parse(a.bridgeURL)
	if err != nil {
		return "", fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("channel_id", channelID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
