// Package credentials persists per-channel session credentials and protocol
// key material. Values cross the storage boundary as standard base64 text so
// no driver-specific binary type reaches the rest of the engine.
package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrRecordNotFound indicates the channel has no credential record yet.
var ErrRecordNotFound = errors.New("credential record not found")

// State is the decoded credential record of one channel.
type State struct {
	ChannelID string
	// Creds is the opaque session identity/registration blob. Empty until the
	// transport emits its first credential update.
	Creds []byte
	// Keys maps a key id to its key material.
	Keys map[string][]byte
	// Fresh reports that the record was created by this load.
	Fresh bool
}

// KeyUpdate carries a batch of key writes. A nil value deletes the key.
type KeyUpdate map[string][]byte

// Store persists credential records.
type Store interface {
	// LoadOrInit returns the record for channelID, creating an empty one when absent.
	LoadOrInit(ctx context.Context, channelID string) (State, error)
	SaveCreds(ctx context.Context, channelID string, creds []byte) error
	SaveKeys(ctx context.Context, channelID string, update KeyUpdate) error
	// Purge removes the record and all key material for channelID.
	Purge(ctx context.Context, channelID string) error
}

// Encode converts binary material into its persisted text form.
func Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Decode converts persisted text back into binary material.
func Decode(text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode credential material: %w", err)
	}
	return data, nil
}

// EncodeKeys converts a key map into its persisted text form.
func EncodeKeys(keys map[string][]byte) map[string]string {
	out := make(map[string]string, len(keys))
	for id, data := range keys {
		out[id] = Encode(data)
	}
	return out
}

// DecodeKeys converts persisted key text back into binary material.
// A nil entry in the input decodes to a nil value (deletion marker).
func DecodeKeys(raw map[string]*string) (KeyUpdate, error) {
	out := make(KeyUpdate, len(raw))
	for id, text := range raw {
		if text == nil {
			out[id] = nil
			continue
		}
		data, err := Decode(*text)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", id, err)
		}
		if data == nil {
			data = []byte{}
		}
		out[id] = data
	}
	return out, nil
}
