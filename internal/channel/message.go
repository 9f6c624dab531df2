package channel

import (
	"errors"
	"fmt"
	"strings"
)

// Outbound message types.
const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageVideo    = "video"
	MessageAudio    = "audio"
	MessageDocument = "document"
)

// ErrInvalidMessage indicates an outbound message missing required fields.
var ErrInvalidMessage = errors.New("invalid message")

// Normalize trims the message and defaults its type to text.
func (m OutboundMessage) Normalize() OutboundMessage {
	m.To = strings.TrimSpace(m.To)
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	if m.Type == "" {
		m.Type = MessageText
	}
	m.MediaURL = strings.TrimSpace(m.MediaURL)
	m.ReplyTo = strings.TrimSpace(m.ReplyTo)
	return m
}

// Validate checks the fields required by the message type.
func (m OutboundMessage) Validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidMessage)
	}
	switch m.Type {
	case MessageText:
		if strings.TrimSpace(m.Text) == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidMessage)
		}
	case MessageImage, MessageVideo, MessageAudio, MessageDocument:
		if m.MediaURL == "" {
			return fmt.Errorf("%w: media_url is required for %s", ErrInvalidMessage, m.Type)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// IsMedia reports whether the message carries an attachment.
func (m OutboundMessage) IsMedia() bool {
	return m.Type != MessageText && m.MediaURL != ""
}

// PlainText renders the message for text-only transports: the text, or the
// caption followed by the media link.
func (m OutboundMessage) PlainText() string {
	if !m.IsMedia() {
		return strings.TrimSpace(m.Text)
	}
	parts := make([]string, 0, 2)
	if c := strings.TrimSpace(m.Caption); c != "" {
		parts = append(parts, c)
	} else if t := strings.TrimSpace(m.Text); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, m.MediaURL)
	return strings.Join(parts, "\n")
}
