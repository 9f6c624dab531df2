package channel

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannelStore struct {
	mu       sync.Mutex
	channels map[string]Channel
	statuses map[string][]Status
	patches  map[string][]SessionConfigPatch
	// patchGate, when set, holds UpdateSessionConfig until closed.
	patchGate    chan struct{}
	patchWaiting atomic.Int32
}

func newFakeChannelStore(channels ...Channel) *fakeChannelStore {
	s := &fakeChannelStore{
		channels: map[string]Channel{},
		statuses: map[string][]Status{},
		patches:  map[string][]SessionConfigPatch{},
	}
	for _, ch := range channels {
		s.channels[ch.ID] = ch
	}
	return s
}

func (f *fakeChannelStore) CreateChannel(_ context.Context, req CreateChannelRequest) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	ch := Channel{ID: req.ID, Type: req.Type, Name: req.Name, Config: req.Config, Status: StatusInactive, IsActive: active}
	f.channels[ch.ID] = ch
	return ch, nil
}

func (f *fakeChannelStore) GetChannel(_ context.Context, channelID string) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeChannelStore) ListChannelsByStatus(_ context.Context, statuses []Status) ([]Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []Channel
	for _, ch := range f.channels {
		for _, st := range statuses {
			if ch.Status == st {
				items = append(items, ch)
				break
			}
		}
	}
	return items, nil
}

func (f *fakeChannelStore) UpdateStatus(_ context.Context, channelID string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	ch.Status = status
	f.channels[channelID] = ch
	f.statuses[channelID] = append(f.statuses[channelID], status)
	return nil
}

func (f *fakeChannelStore) UpdateSessionConfig(_ context.Context, channelID string, patch SessionConfigPatch) error {
	f.mu.Lock()
	gate := f.patchGate
	f.mu.Unlock()
	if gate != nil {
		f.patchWaiting.Add(1)
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return ErrChannelNotFound
	}
	if ch.Config.Session == nil {
		ch.Config.Session = &SessionConfig{}
	}
	cfg := *ch.Config.Session
	patch.Apply(&cfg)
	ch.Config.Session = &cfg
	f.channels[channelID] = ch
	f.patches[channelID] = append(f.patches[channelID], patch)
	return nil
}

func (f *fakeChannelStore) SetActive(_ context.Context, channelID string, active bool) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return Channel{}, ErrChannelNotFound
	}
	ch.IsActive = active
	f.channels[channelID] = ch
	return ch, nil
}

func (f *fakeChannelStore) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.channels[channelID]; !ok {
		return ErrChannelNotFound
	}
	delete(f.channels, channelID)
	return nil
}

func (f *fakeChannelStore) statusHistory(channelID string) []Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Status(nil), f.statuses[channelID]...)
}

func (f *fakeChannelStore) patchCount(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches[channelID])
}

func (f *fakeChannelStore) channel(channelID string) Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channelID]
}

type fakeSession struct {
	pairingFunc func(ctx context.Context, phone string) (string, error)
	logouts     atomic.Int32
	closes      atomic.Int32
}

func (s *fakeSession) SendMessage(context.Context, OutboundMessage) (SendReceipt, error) {
	return SendReceipt{MessageID: "wamid.1"}, nil
}

func (s *fakeSession) CheckAddress(context.Context, string) (bool, error) { return true, nil }

func (s *fakeSession) ResolveHiddenID(context.Context, string) (string, error) { return "", nil }

func (s *fakeSession) HiddenIDFor(context.Context, string) (string, error) { return "", nil }

func (s *fakeSession) GroupMetadata(context.Context, string) (GroupMetadata, error) {
	return GroupMetadata{}, nil
}

func (s *fakeSession) ProfilePhotoURL(context.Context, string) (string, error) { return "", nil }

func (s *fakeSession) ProfileStatus(context.Context, string) (string, error) { return "", nil }

func (s *fakeSession) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if s.pairingFunc == nil {
		return "", nil
	}
	return s.pairingFunc(ctx, phone)
}

func (s *fakeSession) Logout(context.Context) error {
	s.logouts.Add(1)
	return nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeReceiver is a connection-backed adapter whose sessions are driven by tests.
type fakeReceiver struct {
	connectErr error
	// gate, when set, blocks Connect until closed.
	gate chan struct{}

	mu       sync.Mutex
	calls    int
	sinks    []EventSink
	sessions []*fakeSession
	states   []credentials.State
	opts     []ConnectOptions
}

func (r *fakeReceiver) Type() ChannelType { return TypeSession }

func (r *fakeReceiver) Descriptor() Descriptor {
	return Descriptor{Type: TypeSession, DisplayName: "Session", ConnectionBacked: true}
}

func (r *fakeReceiver) Connect(ctx context.Context, ch Channel, state credentials.State, opts ConnectOptions, sink EventSink) (Session, error) {
	r.mu.Lock()
	r.calls++
	r.states = append(r.states, state)
	r.opts = append(r.opts, opts)
	gate := r.gate
	connectErr := r.connectErr
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if connectErr != nil {
		return nil, connectErr
	}
	sess := &fakeSession{}
	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	r.sessions = append(r.sessions, sess)
	r.mu.Unlock()
	return sess, nil
}

func (r *fakeReceiver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeReceiver) setConnectErr(err error) {
	r.mu.Lock()
	r.connectErr = err
	r.mu.Unlock()
}

func (r *fakeReceiver) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *fakeReceiver) sink(i int) EventSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[i]
}

func (r *fakeReceiver) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[i]
}

type statelessAdapter struct{}

func (statelessAdapter) Type() ChannelType { return TypeTelegram }

func (statelessAdapter) Descriptor() Descriptor {
	return Descriptor{Type: TypeTelegram, DisplayName: "Telegram"}
}

func (statelessAdapter) Send(context.Context, Channel, OutboundMessage) (SendReceipt, error) {
	return SendReceipt{MessageID: "1"}, nil
}

type recordingProcessor struct {
	mu       sync.Mutex
	events   []ChannelEvent
	messages []RawMessage
	sessions []Session
}

func (p *recordingProcessor) ProcessMessages(_ context.Context, _ Channel, sess Session, msgs []RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msgs...)
	p.sessions = append(p.sessions, sess)
}

func (p *recordingProcessor) ProcessReceipts(context.Context, Channel, []RawReceipt) {}

func (p *recordingProcessor) ProcessCalls(context.Context, Channel, []RawCall) {}

func (p *recordingProcessor) ProcessGroupUpdates(context.Context, Channel, []GroupUpdate) {}

func (p *recordingProcessor) ProcessChannelEvent(_ context.Context, event ChannelEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingProcessor) kinds() []webhook.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]webhook.EventKind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (p *recordingProcessor) lastOf(kind webhook.EventKind) (ChannelEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return ChannelEvent{}, false
}

type countingObserver struct {
	reconnects  atomic.Int32
	transitions atomic.Int32
}

func (o *countingObserver) StatusChanged(ChannelType, Status, Status) { o.transitions.Add(1) }

func (o *countingObserver) ReconnectScheduled(ChannelType) { o.reconnects.Add(1) }

type flushRecorder struct {
	mu      sync.Mutex
	flushed []string
}

func (f *flushRecorder) FlushChannel(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, channelID)
}

type managerFixture struct {
	manager   *Manager
	store     *fakeChannelStore
	creds     *credentials.MemoryStore
	receiver  *fakeReceiver
	processor *recordingProcessor
	observer  *countingObserver
}

func newManagerFixture(reconnectDelay time.Duration, channels ...Channel) *managerFixture {
	if len(channels) == 0 {
		channels = []Channel{{ID: "ch-1", Type: TypeSession, IsActive: true, Status: StatusInactive, Config: Config{Session: &SessionConfig{}}}}
	}
	reg := NewRegistry()
	receiver := &fakeReceiver{}
	reg.MustRegister(receiver)
	reg.MustRegister(statelessAdapter{})
	store := newFakeChannelStore(channels...)
	creds := credentials.NewMemoryStore()
	processor := &recordingProcessor{}
	observer := &countingObserver{}
	m := NewManager(discardLogger(), reg, store, creds, processor, ManagerOptions{ReconnectDelay: reconnectDelay, RestoreStagger: time.Millisecond})
	m.SetObserver(observer)
	return &managerFixture{
		manager:   m,
		store:     store,
		creds:     creds,
		receiver:  receiver,
		processor: processor,
		observer:  observer,
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
