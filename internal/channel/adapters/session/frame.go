package session

import (
	"encoding/json"
	"fmt"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Frame is the bridge wire message. Three types: "req" (gateway to bridge),
// "res" (bridge reply), "event" (bridge push).
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int             `json:"seq,omitempty"`
}

// ErrorPayload is the error body of a failed "res" frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("bridge error %s: %s", e.Code, e.Message)
}

// Is matches channel.ErrRemoteNotFound for the bridge's not-found codes.
func (e *ErrorPayload) Is(target error) bool {
	if target != channel.ErrRemoteNotFound {
		return false
	}
	switch e.Code {
	case "not_found", "item-not-found":
		return true
	}
	return false
}

const (
	frameReq   = "req"
	frameRes   = "res"
	frameEvent = "event"
)

// Commands.
const (
	methodSessionStart   = "session.start"
	methodSessionLogout  = "session.logout"
	methodMessageSend    = "message.send"
	methodContactCheck   = "contact.check"
	methodContactResolve = "contact.resolve"
	methodGroupMetadata  = "group.metadata"
	methodContactPhoto   = "contact.photo"
	methodContactStatus  = "contact.status"
	methodPairingRequest = "pairing.request"
)

// Events.
const (
	eventConnectionUpdate = "connection.update"
	eventCredsUpdate      = "creds.update"
	eventMessagesUpsert   = "messages.upsert"
	eventReceiptsUpdate   = "receipts.update"
	eventCalls            = "calls"
	eventGroupsUpdate     = "groups.update"
)

func requestFrame(id, method string, params any) (Frame, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s params: %w", method, err)
	}
	return Frame{Type: frameReq, ID: id, Method: method, Params: data}, nil
}

type startParams struct {
	ChannelID    string            `json:"channel_id"`
	Creds        string            `json:"creds,omitempty"`
	Keys         map[string]string `json:"keys,omitempty"`
	PairingPhone string            `json:"pairing_phone,omitempty"`
}

// credsPayload is the wire form of creds.update: base64 text, a nil key
// value deletes the key.
type credsPayload struct {
	Creds string             `json:"creds,omitempty"`
	Keys  map[string]*string `json:"keys,omitempty"`
}

type addressParams struct {
	Address string `json:"address,omitempty"`
}

type hiddenIDParams struct {
	HiddenID string `json:"hidden_id"`
}

type groupParams struct {
	GroupID string `json:"group_id"`
}

type phoneParams struct {
	Phone string `json:"phone"`
}

type checkResult struct {
	Exists bool `json:"exists"`
}

type resolveResult struct {
	Address  string `json:"address,omitempty"`
	HiddenID string `json:"hidden_id,omitempty"`
}

type photoResult struct {
	URL string `json:"url"`
}

type statusResult struct {
	Status string `json:"status"`
}

type pairingResult struct {
	Code string `json:"code"`
}
