package channel

import (
	"context"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
)

// Adapter is the base interface every channel adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Capabilities lists what a channel type can do.
type Capabilities struct {
	Text        bool `json:"text"`
	Media       bool `json:"media"`
	Reply       bool `json:"reply"`
	Groups      bool `json:"groups"`
	Inbound     bool `json:"inbound"`
	AddressBook bool `json:"address_book"`
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type             ChannelType  `json:"type"`
	DisplayName      string       `json:"display_name"`
	ConnectionBacked bool         `json:"connection_backed"`
	Capabilities     Capabilities `json:"capabilities"`
}

// Sender is an adapter that delivers outbound messages statelessly.
type Sender interface {
	Send(ctx context.Context, ch Channel, msg OutboundMessage) (SendReceipt, error)
}

// Receiver is an adapter that holds a long-lived connection per channel.
// Connect returns once the transport is attached; later state changes arrive
// through sink.
type Receiver interface {
	Connect(ctx context.Context, ch Channel, state credentials.State, opts ConnectOptions, sink EventSink) (Session, error)
}
