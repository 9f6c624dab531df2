package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore keeps credential records in process memory. Values are held in
// their encoded form so it round-trips exactly like PgStore.
type MemoryStore struct {
	mu    sync.Mutex
	creds map[string]string
	keys  map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: map[string]string{},
		keys:  map[string]map[string]string{},
	}
}

func (s *MemoryStore) LoadOrInit(_ context.Context, channelID string) (State, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return State{}, fmt.Errorf("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{ChannelID: channelID, Keys: map[string][]byte{}}
	text, ok := s.creds[channelID]
	if !ok {
		s.creds[channelID] = ""
		state.Fresh = true
		return state, nil
	}
	creds, err := Decode(text)
	if err != nil {
		return State{}, err
	}
	state.Creds = creds
	for id, keyText := range s.keys[channelID] {
		data, err := Decode(keyText)
		if err != nil {
			return State{}, err
		}
		state.Keys[id] = data
	}
	return state, nil
}

func (s *MemoryStore) SaveCreds(_ context.Context, channelID string, creds []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[channelID] = Encode(creds)
	return nil
}

func (s *MemoryStore) SaveKeys(_ context.Context, channelID string, update KeyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.keys[channelID]
	if bucket == nil {
		bucket = map[string]string{}
		s.keys[channelID] = bucket
	}
	for id, data := range update {
		if data == nil {
			delete(bucket, id)
			continue
		}
		bucket[id] = Encode(data)
	}
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, channelID)
	delete(s.keys, channelID)
	return nil
}

// Has reports whether a record exists for channelID.
func (s *MemoryStore) Has(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creds[channelID]
	return ok
}
