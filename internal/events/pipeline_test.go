package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/cache"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/events"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/normalize"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSubscriptions []webhook.Subscription

func (s staticSubscriptions) ListWebhooks(context.Context, string) ([]webhook.Subscription, error) {
	return s, nil
}

type memoryStore struct {
	mu       sync.Mutex
	channels map[string]channel.Channel
}

func (s *memoryStore) GetChannel(_ context.Context, channelID string) (channel.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return ch, nil
}

func (s *memoryStore) ListChannelsByStatus(context.Context, []channel.Status) ([]channel.Channel, error) {
	return nil, nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, channelID string, status channel.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[channelID]
	ch.Status = status
	s.channels[channelID] = ch
	return nil
}

func (s *memoryStore) UpdateSessionConfig(context.Context, string, channel.SessionConfigPatch) error {
	return nil
}

type idleSession struct {
	channel.Session
}

func (idleSession) Logout(context.Context) error { return nil }
func (idleSession) Close() error                 { return nil }

type capturingReceiver struct {
	mu   sync.Mutex
	sink channel.EventSink
}

func (r *capturingReceiver) Type() channel.ChannelType { return channel.TypeSession }

func (r *capturingReceiver) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: channel.TypeSession, DisplayName: "Session", ConnectionBacked: true}
}

func (r *capturingReceiver) Connect(_ context.Context, _ channel.Channel, _ credentials.State, _ channel.ConnectOptions, sink channel.EventSink) (channel.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	return idleSession{}, nil
}

type recordingLog struct {
	mu      sync.Mutex
	entries []eventlog.Entry
}

func (l *recordingLog) Append(_ context.Context, entry eventlog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []webhook.EventKind
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, kind webhook.EventKind, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	return p.err
}

type webhookRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	kinds  []string
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.mu.Lock()
	w.bodies = append(w.bodies, body)
	w.kinds = append(w.kinds, r.Header.Get(webhook.HeaderEventKind))
	w.mu.Unlock()
	rw.WriteHeader(http.StatusOK)
}

func (w *webhookRecorder) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bodies)
}

func TestInboundTextReachesSubscribedWebhook(t *testing.T) {
	t.Parallel()

	recorder := &webhookRecorder{}
	srv := httptest.NewServer(recorder)
	defer srv.Close()

	subs := staticSubscriptions{{
		ID:        "wh-1",
		ChannelID: "ch-1",
		URL:       srv.URL,
		Events:    []webhook.EventKind{webhook.EventMessageReceived},
		IsActive:  true,
	}}
	log := &recordingLog{}
	caches := cache.NewSet(cache.Options{Size: 16})
	pipeline := events.NewPipeline(discardLogger(),
		normalize.New(discardLogger(), normalize.Options{Quotes: nil, HiddenIDs: caches.HiddenIDs}),
		webhook.NewDispatcher(discardLogger(), subs, 2*time.Second),
		events.Options{Log: log, Groups: caches.Groups},
	)

	store := &memoryStore{channels: map[string]channel.Channel{
		"ch-1": {ID: "ch-1", Type: channel.TypeSession, IsActive: true, Config: channel.Config{Session: &channel.SessionConfig{}}},
	}}
	receiver := &capturingReceiver{}
	registry := channel.NewRegistry()
	registry.MustRegister(receiver)
	manager := channel.NewManager(discardLogger(), registry, store, credentials.NewMemoryStore(), pipeline, channel.ManagerOptions{})
	defer manager.Shutdown(context.Background())

	ctx := context.Background()
	if err := manager.Connect(ctx, "ch-1", channel.ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	receiver.mu.Lock()
	sink := receiver.sink
	receiver.mu.Unlock()

	sink.ConnectionUpdate(channel.ConnectionUpdate{State: channel.ConnStateOpen, Address: "15550009999@s.whatsapp.net"})
	text := "hello there"
	sink.Messages([]channel.RawMessage{{
		ID:        "wamid-1",
		RemoteJID: "15550001111@s.whatsapp.net",
		PushName:  "Ana",
		Timestamp: 1700000000,
		Content:   channel.RawContent{Conversation: &text},
	}})

	if got := recorder.count(); got != 1 {
		t.Fatalf("expected exactly one POST, got %d", got)
	}
	recorder.mu.Lock()
	body, kind := recorder.bodies[0], recorder.kinds[0]
	recorder.mu.Unlock()
	if kind != string(webhook.EventMessageReceived) {
		t.Fatalf("unexpected kind header: %s", kind)
	}
	raw, _ := json.Marshal(body)
	var env normalize.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	msgs := env.Entry[0].Changes[0].Value.Messages
	if len(msgs) != 1 || msgs[0].Type != normalize.TypeText || msgs[0].From != "15550001111" || msgs[0].Timestamp != "1700000000" {
		t.Fatalf("unexpected message: %+v", msgs)
	}
	if msgs[0].Text == nil || msgs[0].Text.Body != "hello there" {
		t.Fatalf("unexpected text body: %+v", msgs[0].Text)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.entries) != 1 || log.entries[0].MessageID != "wamid-1" || log.entries[0].Sender != "15550001111" {
		t.Fatalf("unexpected event log: %+v", log.entries)
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	kinds []webhook.EventKind
	err   error
}

func (d *countingDispatcher) Dispatch(_ context.Context, _ string, kind webhook.EventKind, _ any) ([]webhook.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, kind)
	return nil, d.err
}

func TestReceiptAndEchoKinds(t *testing.T) {
	t.Parallel()

	dispatcher := &countingDispatcher{}
	publisher := &recordingPublisher{err: errors.New("broker down")}
	pipeline := events.NewPipeline(discardLogger(), normalize.New(discardLogger(), normalize.Options{}), dispatcher,
		events.Options{Publisher: publisher})
	ch := channel.Channel{ID: "ch-1", Type: channel.TypeSession}
	ctx := context.Background()
	text := "echo"

	pipeline.ProcessMessages(ctx, ch, nil, []channel.RawMessage{{ID: "m1", RemoteJID: "1@s.whatsapp.net", FromMe: true, Content: channel.RawContent{Conversation: &text}}})
	pipeline.ProcessReceipts(ctx, ch, []channel.RawReceipt{
		{MessageID: "m1", Status: 2},
		{MessageID: "m1", Status: 3},
		{MessageID: "m1", Status: 4},
		{MessageID: "m1", Status: 42},
	})
	pipeline.ProcessCalls(ctx, ch, []channel.RawCall{{ID: "c1", From: "1@s.whatsapp.net"}, {ID: "c2", Outgoing: true}})

	want := []webhook.EventKind{
		webhook.EventMessageSent,
		webhook.EventMessageStatus,
		webhook.EventMessageDelivered,
		webhook.EventMessageRead,
		webhook.EventMessageStatus,
		webhook.EventCallReceived,
	}
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.kinds) != len(want) {
		t.Fatalf("expected %d dispatches, got %v", len(want), dispatcher.kinds)
	}
	for i := range want {
		if dispatcher.kinds[i] != want[i] {
			t.Fatalf("dispatch %d: expected %s, got %s", i, want[i], dispatcher.kinds[i])
		}
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.kinds) != len(want) {
		t.Fatalf("broker failures must not stop delivery, got %v", publisher.kinds)
	}
}

func TestChannelEventsAndGroupUpdates(t *testing.T) {
	t.Parallel()

	dispatcher := &countingDispatcher{err: errors.New("no subscriptions")}
	caches := cache.NewSet(cache.Options{Size: 16})
	caches.Groups.Set("ch-1", "g1@g.us", channel.GroupMetadata{ID: "g1@g.us", Subject: "old"})
	pipeline := events.NewPipeline(discardLogger(), normalize.New(discardLogger(), normalize.Options{}), dispatcher,
		events.Options{Groups: caches.Groups})

	subject := "new"
	pipeline.ProcessGroupUpdates(context.Background(), channel.Channel{ID: "ch-1"}, []channel.GroupUpdate{{ID: "g1@g.us", Subject: &subject}})
	if meta, _ := caches.Groups.Get("ch-1", "g1@g.us"); meta.Subject != "new" {
		t.Fatalf("expected merged subject, got %+v", meta)
	}

	pipeline.ProcessChannelEvent(context.Background(), channel.ChannelEvent{ChannelID: "ch-1", Kind: webhook.EventChannelQRReady, QR: "2@x"})
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.kinds) != 1 || dispatcher.kinds[0] != webhook.EventChannelQRReady {
		t.Fatalf("unexpected dispatches: %v", dispatcher.kinds)
	}
}
