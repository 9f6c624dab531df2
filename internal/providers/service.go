package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

const (
	userServer  = "@s.whatsapp.net"
	groupServer = "@g.us"
	lidServer   = "@lid"
)

// ChannelLookup loads channel records.
type ChannelLookup interface {
	GetChannel(ctx context.Context, channelID string) (channel.Channel, error)
}

// SessionSource returns live sessions of connection-backed channels.
type SessionSource interface {
	Session(channelID string) (channel.Session, error)
}

// AddressChecker caches registration lookups.
type AddressChecker interface {
	Check(ctx context.Context, channelID, address string, lookup func(ctx context.Context) (bool, error)) (bool, error)
}

// GroupResolver caches group metadata lookups.
type GroupResolver interface {
	Metadata(ctx context.Context, channelID, groupID string, fetch func(ctx context.Context) (channel.GroupMetadata, error)) (channel.GroupMetadata, error)
}

// HiddenIDMapper caches hidden-id resolutions in both directions.
type HiddenIDMapper interface {
	Resolve(ctx context.Context, channelID, hiddenID string, lookup func(ctx context.Context) (string, error)) (string, error)
	HiddenID(ctx context.Context, channelID, address string, lookup func(ctx context.Context) (string, error)) (string, error)
}

// Deps wires the service's collaborators. Observer is optional.
type Deps struct {
	Channels  ChannelLookup
	Sessions  SessionSource
	Registry  *channel.Registry
	Addresses AddressChecker
	Groups    GroupResolver
	HiddenIDs HiddenIDMapper
	Observer  Observer
	// BulkConcurrency defaults to DefaultBulkConcurrency.
	BulkConcurrency int
}

// Service sends messages through any registered provider.
type Service struct {
	channels  ChannelLookup
	sessions  SessionSource
	registry  *channel.Registry
	addresses AddressChecker
	groups    GroupResolver
	hiddenIDs HiddenIDMapper
	observer  Observer
	bulkLimit int
	logger    *slog.Logger
}

func NewService(log *slog.Logger, deps Deps) *Service {
	if log == nil {
		log = slog.Default()
	}
	if deps.BulkConcurrency <= 0 {
		deps.BulkConcurrency = DefaultBulkConcurrency
	}
	return &Service{
		channels:  deps.Channels,
		sessions:  deps.Sessions,
		registry:  deps.Registry,
		addresses: deps.Addresses,
		groups:    deps.Groups,
		hiddenIDs: deps.HiddenIDs,
		observer:  deps.Observer,
		bulkLimit: deps.BulkConcurrency,
		logger:    log.With(slog.String("service", "providers")),
	}
}

// SetObserver installs the send observer after construction.
func (s *Service) SetObserver(observer Observer) {
	s.observer = observer
}

// Send delivers msg to recipient through channelID. Validation failures are
// returned as errors alongside a failed Result; a provider failure is
// reported only in the Result.
func (s *Service) Send(ctx context.Context, provider, channelID, recipient string, msg channel.OutboundMessage, opts Options) (Result, error) {
	result := Result{
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		ChannelID: channelID,
		Recipient: recipient,
	}
	channelType, err := s.registry.ParseChannelType(provider)
	if err != nil {
		return fail(result, fmt.Errorf("%w: %q", ErrUnknownProvider, provider))
	}
	ch, err := s.channels.GetChannel(ctx, channelID)
	if err != nil {
		return fail(result, err)
	}
	if ch.Type != channelType {
		return fail(result, fmt.Errorf("%w: channel %s is %s", ErrProviderMismatch, channelID, ch.Type))
	}
	if !ch.IsActive {
		return fail(result, channel.ErrChannelDisabled)
	}

	msg.To = recipient
	msg = msg.Normalize()
	if s.registry.IsConnectionBacked(ch.Type) {
		msg.To = toAddress(msg.To)
	}
	result.Recipient = msg.To
	if err := msg.Validate(); err != nil {
		return fail(result, err)
	}

	var receipt channel.SendReceipt
	if s.registry.IsConnectionBacked(ch.Type) {
		sess, err := s.sessions.Session(ch.ID)
		if err != nil {
			return fail(result, err)
		}
		if !opts.SkipRegistrationCheck {
			if err := s.checkDestination(ctx, ch.ID, sess, msg.To); err != nil {
				if errors.Is(err, ErrDestinationNotRegistered) {
					return fail(result, err)
				}
				return s.providerFailure(result, err), nil
			}
		}
		receipt, err = s.timed(result.Provider, func() (channel.SendReceipt, error) {
			return sess.SendMessage(ctx, msg)
		})
		if err != nil {
			return s.providerFailure(result, err), nil
		}
	} else {
		sender, ok := s.registry.GetSender(ch.Type)
		if !ok {
			return fail(result, fmt.Errorf("%w: %s cannot send", ErrUnknownProvider, ch.Type))
		}
		receipt, err = s.timed(result.Provider, func() (channel.SendReceipt, error) {
			return sender.Send(ctx, ch, msg)
		})
		if err != nil {
			if errors.Is(err, channel.ErrInvalidMessage) || errors.Is(err, channel.ErrInvalidConfig) {
				return fail(result, err)
			}
			return s.providerFailure(result, err), nil
		}
	}

	result.Success = true
	result.MessageID = receipt.MessageID
	result.RawData = receipt.Raw
	return result, nil
}

// SendBulk runs every item concurrently, bounded by the bulk limit. Item
// failures never fail the batch.
func (s *Service) SendBulk(ctx context.Context, items []BulkItem) BulkResult {
	out := BulkResult{Total: len(items), Results: make([]Result, len(items))}
	var g errgroup.Group
	g.SetLimit(s.bulkLimit)
	for i, item := range items {
		g.Go(func() error {
			res, err := s.Send(ctx, item.Provider, item.ChannelID, item.Recipient, item.Message, item.Options)
			if err != nil {
				s.logger.Debug("bulk item rejected", slog.Int("index", i), slog.String("channel_id", item.ChannelID), slog.Any("error", err))
			}
			out.Results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	for _, res := range out.Results {
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}

// checkDestination verifies that address exists: groups through the group
// cache, users through the address cache. Hidden ids are not checked. Only a
// definite "no" is ErrDestinationNotRegistered; a failed lookup is returned
// as is.
func (s *Service) checkDestination(ctx context.Context, channelID string, sess channel.Session, address string) error {
	switch {
	case strings.HasSuffix(address, lidServer):
		return nil
	case strings.HasSuffix(address, groupServer):
		if s.groups == nil {
			return nil
		}
		if _, err := s.groups.Metadata(ctx, channelID, address, func(ctx context.Context) (channel.GroupMetadata, error) {
			return sess.GroupMetadata(ctx, address)
		}); err != nil {
			if errors.Is(err, channel.ErrRemoteNotFound) {
				return fmt.Errorf("%w: group %s", ErrDestinationNotRegistered, address)
			}
			return fmt.Errorf("group metadata %s: %w", address, err)
		}
		return nil
	}
	lookup := func(ctx context.Context) (bool, error) {
		return sess.CheckAddress(ctx, address)
	}
	var (
		registered bool
		err        error
	)
	if s.addresses != nil {
		registered, err = s.addresses.Check(ctx, channelID, address, lookup)
	} else {
		registered, err = lookup(ctx)
	}
	if err != nil {
		return fmt.Errorf("check destination: %w", err)
	}
	if !registered {
		return fmt.Errorf("%w: %s", ErrDestinationNotRegistered, address)
	}
	return nil
}

func (s *Service) timed(provider string, send func() (channel.SendReceipt, error)) (channel.SendReceipt, error) {
	start := time.Now()
	receipt, err := send()
	if s.observer != nil {
		s.observer.ObserveSend(provider, err == nil, time.Since(start))
	}
	return receipt, err
}

func (s *Service) providerFailure(result Result, err error) Result {
	s.logger.Warn("provider send failed",
		slog.String("provider", result.Provider),
		slog.String("channel_id", result.ChannelID),
		slog.Any("error", err))
	result.Error = &ResultError{Code: CodeProviderError, Message: err.Error()}
	return result
}

func fail(result Result, err error) (Result, error) {
	result.Error = &ResultError{Code: ErrorCode(err), Message: err.Error()}
	return result, err
}

// ErrorCode maps a send error to its stable result code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		return CodeUnknownProvider
	case errors.Is(err, ErrProviderMismatch):
		return CodeProviderMismatch
	case errors.Is(err, channel.ErrChannelNotFound):
		return CodeChannelNotFound
	case errors.Is(err, channel.ErrChannelNotConnected):
		return CodeChannelNotConnected
	case errors.Is(err, channel.ErrChannelDisabled):
		return CodeChannelDisabled
	case errors.Is(err, ErrDestinationNotRegistered):
		return CodeNotRegistered
	case errors.Is(err, channel.ErrInvalidMessage), errors.Is(err, channel.ErrInvalidConfig):
		return CodeInvalidMessage
	default:
		return CodeInternal
	}
}

// toAddress turns a phone number into a user address. Addresses that
// already carry a server are kept.
func toAddress(recipient string) string {
	if recipient == "" || strings.Contains(recipient, "@") {
		return recipient
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, recipient)
	if digits == "" {
		return recipient
	}
	return digits + userServer
}
