// Package events turns raw transport callbacks into normalized events and
// delivers them to the event log, the webhook dispatcher, and the broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/normalize"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// Dispatcher delivers an event to the channel's webhooks.
type Dispatcher interface {
	Dispatch(ctx context.Context, channelID string, kind webhook.EventKind, payload any) ([]webhook.Delivery, error)
}

// Log appends normalized events.
type Log interface {
	Append(ctx context.Context, entry eventlog.Entry) error
}

// Publisher mirrors events to a message broker.
type Publisher interface {
	Publish(ctx context.Context, channelID string, kind webhook.EventKind, body []byte) error
}

// GroupUpdater merges pushed group deltas into cached metadata.
type GroupUpdater interface {
	ApplyUpdate(channelID string, update channel.GroupUpdate) bool
}

// Options holds the optional sinks of the pipeline.
type Options struct {
	Log       Log
	Publisher Publisher
	Groups    GroupUpdater
}

// Pipeline implements channel.EventProcessor. Events of one channel are
// processed inline, in the order the transport delivered them.
type Pipeline struct {
	normalizer *normalize.Normalizer
	dispatcher Dispatcher
	log        Log
	publisher  atomic.Pointer[publisherRef]
	groups     GroupUpdater
	logger     *slog.Logger
}

var _ channel.EventProcessor = (*Pipeline)(nil)

func NewPipeline(log *slog.Logger, normalizer *normalize.Normalizer, dispatcher Dispatcher, opts Options) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		normalizer: normalizer,
		dispatcher: dispatcher,
		log:        opts.Log,
		groups:     opts.Groups,
		logger:     log.With(slog.String("component", "events")),
	}
	p.SetPublisher(opts.Publisher)
	return p
}

type publisherRef struct{ Publisher }

// SetPublisher installs the broker mirror after construction. It is safe to
// call while events are flowing.
func (p *Pipeline) SetPublisher(publisher Publisher) {
	if publisher == nil {
		p.publisher.Store(nil)
		return
	}
	p.publisher.Store(&publisherRef{publisher})
}

func (p *Pipeline) ProcessMessages(ctx context.Context, ch channel.Channel, sess channel.Session, msgs []channel.RawMessage) {
	for _, raw := range msgs {
		msg, contact := p.normalizer.Message(ctx, ch, sess, raw)
		value := normalize.Value{Messages: []normalize.Message{msg}}
		kind := webhook.EventMessageReceived
		direction := eventlog.DirectionInbound
		if raw.FromMe {
			kind = webhook.EventMessageSent
			direction = eventlog.DirectionOutbound
		} else {
			value.Contacts = []normalize.Contact{contact}
		}
		env := p.normalizer.Envelope(ch, normalize.FieldMessages, value)
		p.emit(ctx, ch.ID, kind, env, &eventlog.Entry{
			MessageID: msg.ID,
			Direction: direction,
			Sender:    msg.From,
		})
	}
}

func (p *Pipeline) ProcessReceipts(ctx context.Context, ch channel.Channel, receipts []channel.RawReceipt) {
	for _, raw := range receipts {
		status := p.normalizer.Status(ch, raw)
		env := p.normalizer.Envelope(ch, normalize.FieldMessages, normalize.Value{Statuses: []normalize.Status{status}})
		p.emit(ctx, ch.ID, receiptKind(status.Status), env, &eventlog.Entry{
			MessageID: status.ID,
			Direction: eventlog.DirectionOutbound,
		})
	}
}

func (p *Pipeline) ProcessCalls(ctx context.Context, ch channel.Channel, calls []channel.RawCall) {
	for _, raw := range calls {
		if raw.Outgoing {
			p.logger.Debug("skipping outgoing call", slog.String("channel_id", ch.ID), slog.String("call_id", raw.ID))
			continue
		}
		call := p.normalizer.Call(raw)
		env := p.normalizer.Envelope(ch, normalize.FieldCalls, normalize.Value{Calls: []normalize.Call{call}})
		p.emit(ctx, ch.ID, webhook.EventCallReceived, env, &eventlog.Entry{
			MessageID: call.ID,
			Direction: eventlog.DirectionInbound,
			Sender:    call.From,
		})
	}
}

func (p *Pipeline) ProcessGroupUpdates(_ context.Context, ch channel.Channel, updates []channel.GroupUpdate) {
	if p.groups == nil {
		return
	}
	for _, update := range updates {
		if p.groups.ApplyUpdate(ch.ID, update) {
			p.logger.Debug("group metadata updated", slog.String("channel_id", ch.ID), slog.String("group_id", update.ID))
		}
	}
}

func (p *Pipeline) ProcessChannelEvent(ctx context.Context, event channel.ChannelEvent) {
	p.emit(ctx, event.ChannelID, event.Kind, event, nil)
}

// emit encodes payload once and hands it to every sink. Sink failures are
// logged and never stop the remaining sinks.
func (p *Pipeline) emit(ctx context.Context, channelID string, kind webhook.EventKind, payload any, entry *eventlog.Entry) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("encode event failed", slog.String("channel_id", channelID), slog.String("kind", kind.String()), slog.Any("error", err))
		return
	}
	if entry != nil && p.log != nil {
		entry.ChannelID = channelID
		entry.Kind = kind.String()
		entry.Payload = body
		if err := p.log.Append(ctx, *entry); err != nil {
			p.logger.Warn("event log append failed", slog.String("channel_id", channelID), slog.Any("error", err))
		}
	}
	if p.dispatcher != nil {
		if _, err := p.dispatcher.Dispatch(ctx, channelID, kind, json.RawMessage(body)); err != nil {
			p.logger.Warn("webhook dispatch failed", slog.String("channel_id", channelID), slog.String("kind", kind.String()), slog.Any("error", err))
		}
	}
	if ref := p.publisher.Load(); ref != nil {
		if err := ref.Publish(ctx, channelID, kind, body); err != nil {
			p.logger.Warn("broker publish failed", slog.String("channel_id", channelID), slog.String("kind", kind.String()), slog.Any("error", err))
		}
	}
}

func receiptKind(status string) webhook.EventKind {
	switch status {
	case normalize.StatusDelivered:
		return webhook.EventMessageDelivered
	case normalize.StatusRead:
		return webhook.EventMessageRead
	default:
		return webhook.EventMessageStatus
	}
}
