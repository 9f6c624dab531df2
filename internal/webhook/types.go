// Package webhook delivers normalized events to the HTTP endpoints a channel
// has subscribed.
package webhook

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// EventKind names one class of outward event.
type EventKind string

const (
	EventMessageReceived  EventKind = "message.received"
	EventMessageSent      EventKind = "message.sent"
	EventMessageDelivered EventKind = "message.delivered"
	EventMessageRead      EventKind = "message.read"
	EventMessageStatus    EventKind = "message.status"
	EventCallReceived     EventKind = "call.received"
	EventChannelStatus    EventKind = "channel.status"
	EventChannelConnected EventKind = "channel.connected"
	EventChannelDisconn   EventKind = "channel.disconnected"
	EventChannelQRReady   EventKind = "channel.qr-ready"
	EventChannelPairing   EventKind = "channel.pairing-ready"
	EventChannelError     EventKind = "channel.error"
)

// AllEventKinds lists every recognized kind in a stable order.
var AllEventKinds = []EventKind{
	EventMessageReceived,
	EventMessageSent,
	EventMessageDelivered,
	EventMessageRead,
	EventMessageStatus,
	EventCallReceived,
	EventChannelStatus,
	EventChannelConnected,
	EventChannelDisconn,
	EventChannelQRReady,
	EventChannelPairing,
	EventChannelError,
}

func (k EventKind) String() string {
	return string(k)
}

// Valid reports whether k is a recognized kind.
func (k EventKind) Valid() bool {
	return slices.Contains(AllEventKinds, k)
}

// ParseEventKind validates a raw kind name.
func ParseEventKind(raw string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, raw)
	}
	return kind, nil
}

var (
	// ErrUnknownEventKind indicates an event kind outside AllEventKinds.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrSubscriptionNotFound indicates the webhook id does not exist for the channel.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
)

// Subscription is one webhook destination registered on a channel.
type Subscription struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	URL       string      `json:"url"`
	Events    []EventKind `json:"events"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Wants reports whether the subscription should receive kind.
func (s Subscription) Wants(kind EventKind) bool {
	return s.IsActive && slices.Contains(s.Events, kind)
}

// UpsertRequest creates or updates a subscription. Nil fields are left unchanged on update.
type UpsertRequest struct {
	URL      *string  `json:"url" validate:"omitempty,url,startswith=http"`
	Events   []string `json:"events" validate:"omitempty,dive,required"`
	IsActive *bool    `json:"is_active"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize validates the request and returns its parsed event kinds.
// When creating is true the url and at least one event are required.
func (r UpsertRequest) Normalize(creating bool) ([]EventKind, error) {
	if err := validate.Struct(r); err != nil {
		return nil, fmt.Errorf("invalid webhook: %w", err)
	}
	if creating {
		if r.URL == nil || strings.TrimSpace(*r.URL) == "" {
			return nil, fmt.Errorf("invalid webhook: url is required")
		}
		if len(r.Events) == 0 {
			return nil, fmt.Errorf("invalid webhook: at least one event is required")
		}
	}
	if r.Events == nil {
		return nil, nil
	}
	kinds := make([]EventKind, 0, len(r.Events))
	for _, raw := range r.Events {
		kind, err := ParseEventKind(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}
