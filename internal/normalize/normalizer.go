package normalize

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
)

const (
	hiddenIDServer = "lid"
	groupServer    = "g.us"
)

var errNoSession = errors.New("no live session")

// MediaFetcher stores an attachment and returns its public asset.
type MediaFetcher interface {
	Fetch(ctx context.Context, channelID string, ref media.Ref) (media.Asset, error)
}

// QuoteLookup finds the sender of a previously logged message.
type QuoteLookup interface {
	FindSender(ctx context.Context, channelID, messageID string) (string, error)
}

// HiddenIDResolver maps hidden identifiers to addresses, consulting lookup on a miss.
type HiddenIDResolver interface {
	Resolve(ctx context.Context, channelID, hiddenID string, lookup func(ctx context.Context) (string, error)) (string, error)
}

// Observer is told the type tag of every normalized message.
type Observer interface {
	MessageNormalized(channelType, messageType string)
}

// Options wires the normalizer's collaborators. Every field is optional.
type Options struct {
	Media     MediaFetcher
	Quotes    QuoteLookup
	HiddenIDs HiddenIDResolver
	Observer  Observer
}

// Normalizer builds envelopes. It never fails: unrecognized or broken input
// degrades to error-tagged fields.
type Normalizer struct {
	media     MediaFetcher
	quotes    QuoteLookup
	hiddenIDs HiddenIDResolver
	observer  Observer
	logger    *slog.Logger
}

func New(log *slog.Logger, opts Options) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		media:     opts.Media,
		quotes:    opts.Quotes,
		hiddenIDs: opts.HiddenIDs,
		observer:  opts.Observer,
		logger:    log.With(slog.String("component", "normalizer")),
	}
}

// Envelope wraps value in the single-entry webhook body of ch.
func (n *Normalizer) Envelope(ch channel.Channel, field string, value Value) Envelope {
	value.MessagingProduct = MessagingProduct
	value.Metadata = Metadata{
		DisplayPhoneNumber: displayNumber(ch),
		PhoneNumberID:      ch.ID,
	}
	return Envelope{
		Object: ObjectBusinessAccount,
		Entry: []Entry{{
			ID:      ch.ID,
			Changes: []Change{{Field: field, Value: value}},
		}},
	}
}

// Message normalizes one raw message. sess may be nil while the connection
// is still being established.
func (n *Normalizer) Message(ctx context.Context, ch channel.Channel, sess channel.Session, raw channel.RawMessage) (Message, Contact) {
	senderJID := raw.RemoteJID
	msg := Message{
		ID:        raw.ID,
		Timestamp: formatTimestamp(raw.Timestamp),
	}
	if server(raw.RemoteJID) == groupServer {
		msg.GroupID = raw.RemoteJID
		senderJID = raw.Participant
	}
	msg.From = n.resolveSender(ctx, ch.ID, sess, senderJID)
	contact := Contact{Profile: Profile{Name: raw.PushName}, WaID: msg.From}

	content := raw.Content
	switch {
	case content.Conversation != nil:
		msg.Type = TypeText
		msg.Text = &Text{Body: *content.Conversation}
	case content.ExtendedText != nil:
		msg.Type = TypeText
		msg.Text = &Text{Body: content.ExtendedText.Text}
		msg.Context = n.quoteContext(ctx, ch.ID, content.ExtendedText.Context)
	case content.Image != nil:
		msg.Type = TypeImage
		msg.Image = n.attach(ctx, ch.ID, media.MediaTypeImage, content.Image, &msg)
	case content.Video != nil:
		msg.Type = TypeVideo
		msg.Video = n.attach(ctx, ch.ID, media.MediaTypeVideo, content.Video, &msg)
	case content.Audio != nil:
		msg.Type = TypeAudio
		msg.Audio = n.attach(ctx, ch.ID, media.MediaTypeAudio, content.Audio, &msg)
	case content.Document != nil:
		msg.Type = TypeDocument
		msg.Document = n.attach(ctx, ch.ID, media.MediaTypeDocument, content.Document, &msg)
	case content.Sticker != nil:
		msg.Type = TypeSticker
		msg.Sticker = n.attach(ctx, ch.ID, media.MediaTypeSticker, content.Sticker, &msg)
	case content.Reaction != nil:
		msg.Type = TypeReaction
		msg.Reaction = &Reaction{MessageID: content.Reaction.MessageID, Emoji: content.Reaction.Emoji}
	default:
		msg.Type = TypeUnsupported
		detail := content.Other
		if detail == "" {
			detail = "empty message content"
		}
		msg.Errors = append(msg.Errors, Error{
			Code:      CodeUnsupportedMessage,
			Title:     "Message type unknown",
			Message:   "Message type unknown",
			ErrorData: &ErrorData{Details: detail},
		})
	}
	if n.observer != nil {
		n.observer.MessageNormalized(string(ch.Type), msg.Type)
	}
	return msg, contact
}

// Status normalizes one delivery receipt.
func (n *Normalizer) Status(ch channel.Channel, raw channel.RawReceipt) Status {
	status := MapReceiptStatus(raw.Status)
	if status == StatusUnknown {
		n.logger.Warn("unknown receipt status",
			slog.String("channel_id", ch.ID),
			slog.String("message_id", raw.MessageID),
			slog.Int("code", raw.Status))
	}
	recipient := raw.RemoteJID
	if server(recipient) == groupServer && raw.Participant != "" {
		recipient = raw.Participant
	}
	return Status{
		ID:          raw.MessageID,
		Status:      status,
		Timestamp:   formatTimestamp(raw.Timestamp),
		RecipientID: user(recipient),
	}
}

// Call normalizes one call signal.
func (n *Normalizer) Call(raw channel.RawCall) Call {
	call := Call{
		ID:        raw.ID,
		From:      user(raw.From),
		Timestamp: formatTimestamp(raw.Timestamp),
		Direction: "inbound",
		MediaKind: "audio",
		IsGroup:   raw.IsGroup,
		Status:    raw.Status,
	}
	if raw.Outgoing {
		call.Direction = "outbound"
	}
	if raw.IsVideo {
		call.MediaKind = "video"
	}
	return call
}

// MapReceiptStatus maps a transport receipt code to its status tag.
func MapReceiptStatus(code int) string {
	switch code {
	case 2:
		return StatusSent
	case 3:
		return StatusDelivered
	case 4:
		return StatusRead
	default:
		return StatusUnknown
	}
}

func (n *Normalizer) resolveSender(ctx context.Context, channelID string, sess channel.Session, jid string) string {
	if server(jid) != hiddenIDServer || n.hiddenIDs == nil {
		return user(jid)
	}
	address, err := n.hiddenIDs.Resolve(ctx, channelID, jid, func(ctx context.Context) (string, error) {
		if sess == nil {
			return "", errNoSession
		}
		return sess.ResolveHiddenID(ctx, jid)
	})
	if err != nil || address == "" {
		n.logger.Debug("hidden id unresolved", slog.String("channel_id", channelID), slog.String("hidden_id", jid), slog.Any("error", err))
		return user(jid)
	}
	return user(address)
}

func (n *Normalizer) quoteContext(ctx context.Context, channelID string, info *channel.ContextInfo) *Context {
	if info == nil || info.StanzaID == "" {
		return nil
	}
	quoted := &Context{ID: info.StanzaID, From: user(info.Participant)}
	if quoted.From == "" && n.quotes != nil {
		sender, err := n.quotes.FindSender(ctx, channelID, info.StanzaID)
		if err == nil {
			quoted.From = user(sender)
		}
	}
	return quoted
}

// attach stores a media body. A failure keeps the metadata and adds a
// media error to msg instead of failing the message.
func (n *Normalizer) attach(ctx context.Context, channelID string, kind media.MediaType, content *channel.MediaContent, msg *Message) *Media {
	out := &Media{
		MimeType: content.Mimetype,
		SHA256:   content.SHA256,
		Caption:  content.Caption,
		Filename: content.FileName,
		Voice:    content.PTT,
		Animated: content.Animated,
	}
	if msg.Context == nil {
		msg.Context = n.quoteContext(ctx, channelID, content.Context)
	}
	if n.media == nil {
		return out
	}
	asset, err := n.media.Fetch(ctx, channelID, media.Ref{
		MediaType: kind,
		URL:       content.URL,
		Data:      content.Data,
		Mime:      content.Mimetype,
		FileName:  content.FileName,
	})
	if err != nil {
		n.logger.Warn("media download failed",
			slog.String("channel_id", channelID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		msg.Errors = append(msg.Errors, Error{
			Code:      CodeMediaDownload,
			Title:     "Media download error",
			Message:   "Failed to download the media attachment",
			ErrorData: &ErrorData{Details: err.Error()},
		})
		return out
	}
	out.ID = asset.ContentHash
	out.Link = asset.URL
	out.MimeType = asset.Mime
	out.SHA256 = asset.ContentHash
	return out
}

func displayNumber(ch channel.Channel) string {
	if ch.Config.Session == nil {
		return ""
	}
	if ch.Config.Session.PhoneNumber != "" {
		return ch.Config.Session.PhoneNumber
	}
	return user(ch.Config.Session.Address)
}

// user returns the user part of an address, without server or device suffix.
func user(jid string) string {
	jid = strings.TrimSpace(jid)
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		jid = jid[:at]
	}
	if colon := strings.IndexByte(jid, ':'); colon >= 0 {
		jid = jid[:colon]
	}
	return jid
}

func server(jid string) string {
	if at := strings.LastIndexByte(jid, '@'); at >= 0 {
		return jid[at+1:]
	}
	return ""
}

func formatTimestamp(unix int64) string {
	if unix <= 0 {
		unix = time.Now().Unix()
	}
	return strconv.FormatInt(unix, 10)
}
