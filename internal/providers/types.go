// Package providers is the single entry point for outbound messages. It
// validates the provider and destination, then routes the message to the
// live session or to the stateless sender of the channel type.
package providers

import (
	"errors"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

var (
	// ErrUnknownProvider indicates a provider name with no registered adapter.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrProviderMismatch indicates a provider that differs from the channel's type.
	ErrProviderMismatch = errors.New("provider does not match channel type")
	// ErrDestinationNotRegistered indicates a recipient that is not on the network.
	ErrDestinationNotRegistered = errors.New("destination not registered")
)

// Result codes reported in failed results.
const (
	CodeUnknownProvider     = "unknown_provider"
	CodeProviderMismatch    = "provider_mismatch"
	CodeChannelNotFound     = "channel_not_found"
	CodeChannelNotConnected = "channel_not_connected"
	CodeChannelDisabled     = "channel_disabled"
	CodeNotRegistered       = "destination_not_registered"
	CodeInvalidMessage      = "invalid_message"
	CodeProviderError       = "provider_error"
	CodeInternal            = "internal_error"
)

// DefaultBulkConcurrency bounds the sends of one bulk request in flight.
const DefaultBulkConcurrency = 10

// Options tunes a single send.
type Options struct {
	// SkipRegistrationCheck sends without asking the network whether the
	// recipient exists.
	SkipRegistrationCheck bool `json:"skip_registration_check,omitempty"`
}

// ResultError describes why a send failed.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of one send.
type Result struct {
	Success   bool           `json:"success"`
	Provider  string         `json:"provider"`
	MessageID string         `json:"messageId,omitempty"`
	ChannelID string         `json:"channelId"`
	Recipient string         `json:"recipient"`
	RawData   map[string]any `json:"rawData,omitempty"`
	Error     *ResultError   `json:"error,omitempty"`
}

// BulkItem is one send of a bulk request.
type BulkItem struct {
	Provider  string                  `json:"provider"`
	ChannelID string                  `json:"channelId"`
	Recipient string                  `json:"recipient"`
	Message   channel.OutboundMessage `json:"message"`
	Options   Options                 `json:"options"`
}

// BulkResult holds per-item results in request order.
type BulkResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// Observer is told the outcome and latency of every provider send.
type Observer interface {
	ObserveSend(provider string, success bool, elapsed time.Duration)
}
