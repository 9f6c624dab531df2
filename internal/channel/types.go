// Package channel owns tenant messaging channels: their persisted records, the
// adapter registry, and the connection manager that drives each live session
// through its status state machine.
package channel

import (
	"errors"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// ChannelType identifies a transport kind (e.g., "session", "telegram").
type ChannelType string

const (
	// TypeSession is a connection-backed WhatsApp-Web-protocol session.
	TypeSession  ChannelType = "session"
	TypeTelegram ChannelType = "telegram"
	TypeSlack    ChannelType = "slack"
	TypeDiscord  ChannelType = "discord"
	TypeFeishu   ChannelType = "feishu"
	TypeEmail    ChannelType = "email"
	// TypeCall delivers text as a voice call through a calling provider.
	TypeCall ChannelType = "call"
)

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Status is the lifecycle state of a channel connection.
type Status string

const (
	StatusInactive         Status = "inactive"
	StatusConnecting       Status = "connecting"
	StatusQRReady          Status = "qr_ready"
	StatusPairingCodeReady Status = "pairing_code_ready"
	StatusActive           Status = "active"
	StatusLoggedOut        Status = "logged_out"
	StatusError            Status = "error"
)

func (s Status) String() string {
	return string(s)
}

// Live reports whether the status implies the channel should hold a connection.
func (s Status) Live() bool {
	switch s {
	case StatusActive, StatusConnecting, StatusQRReady, StatusPairingCodeReady:
		return true
	default:
		return false
	}
}

// LiveStatuses lists the statuses restored at startup.
var LiveStatuses = []Status{StatusActive, StatusConnecting, StatusQRReady, StatusPairingCodeReady}

var (
	// ErrChannelNotFound indicates no channel exists with the given id.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrChannelNotConnected indicates the channel has no active session.
	ErrChannelNotConnected = errors.New("channel not connected")
	// ErrChannelDisabled indicates the channel is administratively inactive.
	ErrChannelDisabled = errors.New("channel disabled")
	// ErrNotConnectionBacked indicates the channel type has no long-lived connection.
	ErrNotConnectionBacked = errors.New("channel type is not connection-backed")
	// ErrConnectFailed wraps setup failures of a connect attempt.
	ErrConnectFailed = errors.New("channel connect failed")
	// ErrRemoteNotFound is reported by a session when the network has no
	// such user or group.
	ErrRemoteNotFound = errors.New("not found on network")
)

// Channel is a tenant's messaging endpoint.
type Channel struct {
	ID               string                 `json:"channel_id"`
	Type             ChannelType            `json:"type"`
	Name             string                 `json:"name,omitempty"`
	Config           Config                 `json:"config"`
	Status           Status                 `json:"status"`
	LastStatusUpdate time.Time              `json:"last_status_update"`
	IsActive         bool                   `json:"is_active"`
	Webhooks         []webhook.Subscription `json:"webhooks"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ConnectionStatus describes runtime status for one channel connection.
type ConnectionStatus struct {
	ChannelID   string      `json:"channel_id"`
	ChannelType ChannelType `json:"channel_type"`
	Status      Status      `json:"status"`
	Running     bool        `json:"running"`
	Address     string      `json:"address,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ConnectOptions tunes a single connect attempt.
type ConnectOptions struct {
	// PairingPhone requests phone-number pairing instead of a QR code.
	PairingPhone string `json:"pairing_phone,omitempty"`
}

// CreateChannelRequest creates a channel record.
type CreateChannelRequest struct {
	ID       string      `json:"channel_id"`
	Type     ChannelType `json:"type"`
	Name     string      `json:"name"`
	Config   Config      `json:"-"`
	IsActive *bool       `json:"is_active,omitempty"`
}
