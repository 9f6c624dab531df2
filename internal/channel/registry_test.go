package channel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
)

const mockChannelType = channel.ChannelType("mock")

type senderMockAdapter struct{}

func (a *senderMockAdapter) Type() channel.ChannelType { return mockChannelType }

func (a *senderMockAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: mockChannelType, DisplayName: "Mock"}
}

func (a *senderMockAdapter) Send(ctx context.Context, ch channel.Channel, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	return channel.SendReceipt{MessageID: "m1"}, nil
}

type receiverMockAdapter struct{}

func (a *receiverMockAdapter) Type() channel.ChannelType { return channel.TypeSession }

func (a *receiverMockAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: channel.TypeSession, DisplayName: "Session", ConnectionBacked: true}
}

func (a *receiverMockAdapter) Connect(ctx context.Context, ch channel.Channel, state credentials.State, opts channel.ConnectOptions, sink channel.EventSink) (channel.Session, error) {
	return nil, nil
}

func TestRegistryCapabilityAccessors(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&senderMockAdapter{})
	reg.MustRegister(&receiverMockAdapter{})

	if _, ok := reg.GetSender(mockChannelType); !ok {
		t.Fatalf("GetSender(mock) should succeed")
	}
	if _, ok := reg.GetReceiver(mockChannelType); ok {
		t.Fatalf("GetReceiver(mock) should fail for a sender-only adapter")
	}
	if _, ok := reg.GetReceiver(channel.TypeSession); !ok {
		t.Fatalf("GetReceiver(session) should succeed")
	}
	if !reg.IsConnectionBacked(channel.TypeSession) || reg.IsConnectionBacked(mockChannelType) {
		t.Fatalf("unexpected connection-backed flags")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	if err := reg.Register(&senderMockAdapter{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := reg.Register(&senderMockAdapter{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, ok := reg.Get("  MOCK "); !ok {
		t.Fatalf("lookup should ignore case and surrounding space")
	}
	if err := reg.Register(nil); err == nil {
		t.Fatalf("expected error for nil adapter")
	}
}

func TestRegistryParseChannelType(t *testing.T) {
	t.Parallel()

	reg := channel.NewRegistry()
	reg.MustRegister(&receiverMockAdapter{})
	ct, err := reg.ParseChannelType("  Session ")
	if err != nil || ct != channel.TypeSession {
		t.Fatalf("ParseChannelType = (%q, %v)", ct, err)
	}
	if _, err := reg.ParseChannelType("pager"); !errors.Is(err, channel.ErrUnsupportedChannelType) {
		t.Fatalf("expected ErrUnsupportedChannelType, got %v", err)
	}
	if _, err := reg.ParseChannelType("   "); !errors.Is(err, channel.ErrUnsupportedChannelType) {
		t.Fatalf("expected ErrUnsupportedChannelType for blank input, got %v", err)
	}
	descs := reg.ListDescriptors()
	if len(descs) != 1 || descs[0].DisplayName != "Session" {
		t.Fatalf("unexpected descriptors: %+v", descs)
	}
}
