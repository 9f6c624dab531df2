package channel

import (
	"context"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// Session is a live handle to a connection-backed channel. Handles are owned
// by the Manager; callers obtain them through Manager.Session.
type Session interface {
	SendMessage(ctx context.Context, msg OutboundMessage) (SendReceipt, error)
	// CheckAddress reports whether an address is registered on the network.
	CheckAddress(ctx context.Context, address string) (bool, error)
	// ResolveHiddenID maps a privacy-preserving identifier to a real address.
	ResolveHiddenID(ctx context.Context, hiddenID string) (string, error)
	// HiddenIDFor maps a real address to its privacy-preserving identifier.
	HiddenIDFor(ctx context.Context, address string) (string, error)
	GroupMetadata(ctx context.Context, groupID string) (GroupMetadata, error)
	ProfilePhotoURL(ctx context.Context, address string) (string, error)
	ProfileStatus(ctx context.Context, address string) (string, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	// Logout invalidates the linked device on the remote side.
	Logout(ctx context.Context) error
	// Close drops the transport without logging out.
	Close() error
}

// OutboundMessage is a message sent through any provider.
type OutboundMessage struct {
	To         string `json:"to"`
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	MediaURL   string `json:"media_url,omitempty"`
	Caption    string `json:"caption,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Mime       string `json:"mime,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
	PreviewURL bool   `json:"preview_url,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

// SendReceipt is the transport acknowledgement of a sent message.
type SendReceipt struct {
	MessageID string         `json:"message_id"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// GroupParticipant is one member of a group.
type GroupParticipant struct {
	ID    string `json:"id"`
	Admin string `json:"admin,omitempty"`
}

// GroupMetadata describes a group conversation.
type GroupMetadata struct {
	ID           string             `json:"id"`
	Subject      string             `json:"subject"`
	Description  string             `json:"description,omitempty"`
	Owner        string             `json:"owner,omitempty"`
	Announce     bool               `json:"announce"`
	Restrict     bool               `json:"restrict"`
	Participants []GroupParticipant `json:"participants"`
	CreatedAt    int64              `json:"creation,omitempty"`
}

// GroupUpdate is a partial change to a group. Nil fields are unchanged.
type GroupUpdate struct {
	ID          string  `json:"id"`
	Subject     *string `json:"subject,omitempty"`
	Description *string `json:"desc,omitempty"`
	Announce    *bool   `json:"announce,omitempty"`
	Restrict    *bool   `json:"restrict,omitempty"`
}

// Connection update states reported by a session transport.
const (
	ConnStateConnecting = "connecting"
	ConnStateOpen       = "open"
	ConnStateClose      = "close"
)

// CodeLoggedOut is the close reason code for a remotely unlinked device.
const CodeLoggedOut = 401

// DisconnectReason explains why a transport closed.
type DisconnectReason struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// ConnectionUpdate is a transport state change.
type ConnectionUpdate struct {
	State       string            `json:"connection,omitempty"`
	QR          string            `json:"qr,omitempty"`
	PairingCode string            `json:"pairing_code,omitempty"`
	Address     string            `json:"address,omitempty"`
	PushName    string            `json:"push_name,omitempty"`
	Reason      *DisconnectReason `json:"reason,omitempty"`
}

// Unrecoverable reports whether a close must not be retried.
func (u ConnectionUpdate) Unrecoverable() bool {
	return u.Reason != nil && u.Reason.Code == CodeLoggedOut
}

// CredsUpdate carries rotated credentials and signal keys.
type CredsUpdate struct {
	Creds []byte                `json:"creds,omitempty"`
	Keys  credentials.KeyUpdate `json:"keys,omitempty"`
}

// MediaContent is a media attachment inside a raw message.
type MediaContent struct {
	Mimetype   string       `json:"mimetype,omitempty"`
	Caption    string       `json:"caption,omitempty"`
	FileName   string       `json:"file_name,omitempty"`
	SHA256     string       `json:"sha256,omitempty"`
	FileLength int64        `json:"file_length,omitempty"`
	Seconds    int          `json:"seconds,omitempty"`
	PTT        bool         `json:"ptt,omitempty"`
	Animated   bool         `json:"animated,omitempty"`
	URL        string       `json:"url,omitempty"`
	Data       []byte       `json:"data,omitempty"`
	Context    *ContextInfo `json:"context,omitempty"`
}

// ExtendedText is a text message with reply context or link preview.
type ExtendedText struct {
	Text    string       `json:"text"`
	Context *ContextInfo `json:"context,omitempty"`
}

// ContextInfo references the message being replied to.
type ContextInfo struct {
	StanzaID    string `json:"stanza_id,omitempty"`
	Participant string `json:"participant,omitempty"`
	QuotedText  string `json:"quoted_text,omitempty"`
}

// Reaction is an emoji reaction to another message.
type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// RawContent holds the transport-native content variants. At most one is set.
type RawContent struct {
	Conversation *string       `json:"conversation,omitempty"`
	ExtendedText *ExtendedText `json:"extended_text,omitempty"`
	Image        *MediaContent `json:"image,omitempty"`
	Video        *MediaContent `json:"video,omitempty"`
	Audio        *MediaContent `json:"audio,omitempty"`
	Document     *MediaContent `json:"document,omitempty"`
	Sticker      *MediaContent `json:"sticker,omitempty"`
	Reaction     *Reaction     `json:"reaction,omitempty"`
	// Other names a content kind the gateway does not translate.
	Other string `json:"other,omitempty"`
}

// RawMessage is a transport-native inbound or echoed outbound message.
type RawMessage struct {
	ID          string     `json:"id"`
	RemoteJID   string     `json:"remote_jid"`
	FromMe      bool       `json:"from_me"`
	Participant string     `json:"participant,omitempty"`
	PushName    string     `json:"push_name,omitempty"`
	Timestamp   int64      `json:"timestamp"`
	Content     RawContent `json:"content"`
}

// RawReceipt is a transport-native delivery status update.
type RawReceipt struct {
	MessageID   string `json:"message_id"`
	RemoteJID   string `json:"remote_jid"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me"`
	Status      int    `json:"status"`
	Timestamp   int64  `json:"timestamp"`
}

// RawCall is a transport-native call signal.
type RawCall struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	ChatID    string `json:"chat_id"`
	Timestamp int64  `json:"timestamp"`
	IsVideo   bool   `json:"is_video"`
	IsGroup   bool   `json:"is_group"`
	Outgoing  bool   `json:"outgoing"`
	Status    string `json:"status"`
}

// EventSink receives transport events for one connection. Implementations are
// called from the transport's read loop and must not block for long.
type EventSink interface {
	ConnectionUpdate(update ConnectionUpdate)
	CredsUpdate(update CredsUpdate)
	Messages(msgs []RawMessage)
	Receipts(receipts []RawReceipt)
	Calls(calls []RawCall)
	GroupsUpdate(updates []GroupUpdate)
}

// ChannelEvent is a connection lifecycle notification.
type ChannelEvent struct {
	ChannelID   string            `json:"channel_id"`
	Kind        webhook.EventKind `json:"kind"`
	Status      Status            `json:"status"`
	QR          string            `json:"qr,omitempty"`
	PairingCode string            `json:"pairing_code,omitempty"`
	Address     string            `json:"address,omitempty"`
	Error       string            `json:"error,omitempty"`
	At          time.Time         `json:"at"`
}

// EventProcessor turns raw transport events into delivered notifications.
type EventProcessor interface {
	ProcessMessages(ctx context.Context, ch Channel, sess Session, msgs []RawMessage)
	ProcessReceipts(ctx context.Context, ch Channel, receipts []RawReceipt)
	ProcessCalls(ctx context.Context, ch Channel, calls []RawCall)
	ProcessGroupUpdates(ctx context.Context, ch Channel, updates []GroupUpdate)
	ProcessChannelEvent(ctx context.Context, event ChannelEvent)
}

// Observer is notified of connection state transitions.
type Observer interface {
	StatusChanged(channelType ChannelType, from, to Status)
	ReconnectScheduled(channelType ChannelType)
}

// CacheFlusher drops per-channel cached lookups.
type CacheFlusher interface {
	FlushChannel(channelID string)
}
