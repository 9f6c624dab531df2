package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// ConnectionStore is the persistence the Manager needs.
type ConnectionStore interface {
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	ListChannelsByStatus(ctx context.Context, statuses []Status) ([]Channel, error)
	UpdateStatus(ctx context.Context, channelID string, status Status) error
	UpdateSessionConfig(ctx context.Context, channelID string, patch SessionConfigPatch) error
}

// ErrManagerClosed is returned by Connect after Shutdown.
var ErrManagerClosed = errors.New("channel manager is shut down")

const (
	defaultReconnectDelay = 5 * time.Second
	defaultRestoreStagger = 2 * time.Second
	teardownTimeout       = 10 * time.Second
)

// ManagerOptions tunes reconnect and restore timing.
type ManagerOptions struct {
	ReconnectDelay time.Duration
	RestoreStagger time.Duration
}

// Manager owns at most one live session per channel and drives the status
// state machine. Connection setup and the event sink live in connection.go.
type Manager struct {
	registry  *Registry
	store     ConnectionStore
	creds     credentials.Store
	processor EventProcessor
	caches    CacheFlusher
	observer  Observer
	logger    *slog.Logger

	reconnectDelay time.Duration
	restoreStagger time.Duration

	mu             sync.Mutex
	closed         bool
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
	reconnects     map[string]*time.Timer
	gates          map[string]*channelGate
}

// channelGate serializes status transitions of one channel. epoch changes on
// every detach; an entry created under an older epoch is stale.
type channelGate struct {
	mu    sync.Mutex
	epoch uint64
}

// NewManager creates a Manager with the given logger, registry, stores, and event processor.
func NewManager(log *slog.Logger, registry *Registry, store ConnectionStore, creds credentials.Store, processor EventProcessor, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.RestoreStagger <= 0 {
		opts.RestoreStagger = defaultRestoreStagger
	}
	return &Manager{
		registry:       registry,
		store:          store,
		creds:          creds,
		processor:      processor,
		logger:         log.With(slog.String("component", "channel")),
		reconnectDelay: opts.ReconnectDelay,
		restoreStagger: opts.RestoreStagger,
		connections:    map[string]*connectionEntry{},
		connectionMeta: map[string]ConnectionStatus{},
		reconnects:     map[string]*time.Timer{},
		gates:          map[string]*channelGate{},
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetCacheFlusher sets the caches flushed on Remove.
func (m *Manager) SetCacheFlusher(caches CacheFlusher) {
	m.caches = caches
}

// SetObserver sets the observer notified of transitions and reconnects.
func (m *Manager) SetObserver(observer Observer) {
	m.observer = observer
}

// Disconnect logs the session out, cancels any pending reconnect, and marks
// the channel inactive.
func (m *Manager) Disconnect(ctx context.Context, channelID string) error {
	ch, err := m.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	entry := m.detach(channelID)
	if entry != nil {
		m.teardown(ctx, entry, true)
	}
	m.logger.Info("channel disconnect", slog.String("channel_id", channelID))
	m.applyStatus(ctx, nil, ch, StatusInactive, ChannelEvent{Kind: webhook.EventChannelDisconn})
	return nil
}

// Remove tears the connection down and purges credentials, caches, and
// in-memory status. The channel record itself is left to the caller.
func (m *Manager) Remove(ctx context.Context, channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	entry := m.detach(channelID)
	if entry != nil {
		m.teardown(ctx, entry, true)
	}
	m.mu.Lock()
	delete(m.connectionMeta, channelID)
	m.mu.Unlock()

	var errs []error
	if m.creds != nil {
		if err := m.creds.Purge(ctx, channelID); err != nil && !errors.Is(err, credentials.ErrRecordNotFound) {
			errs = append(errs, fmt.Errorf("purge credentials: %w", err))
		}
	}
	if m.caches != nil {
		m.caches.FlushChannel(channelID)
	}
	m.logger.Info("channel removed", slog.String("channel_id", channelID))
	return errors.Join(errs...)
}

// Status returns the in-memory status when present, else the persisted one.
func (m *Manager) Status(ctx context.Context, channelID string) (ConnectionStatus, error) {
	m.mu.Lock()
	status, ok := m.connectionMeta[channelID]
	m.mu.Unlock()
	if ok {
		return status, nil
	}
	ch, err := m.store.GetChannel(ctx, channelID)
	if err != nil {
		return ConnectionStatus{}, err
	}
	cs := ConnectionStatus{
		ChannelID:   ch.ID,
		ChannelType: ch.Type,
		Status:      ch.Status,
		UpdatedAt:   ch.LastStatusUpdate,
	}
	if ch.Config.Session != nil {
		cs.Address = ch.Config.Session.Address
	}
	return cs, nil
}

// Session returns the live session of an active channel.
func (m *Manager) Session(channelID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.connections[channelID]
	if entry == nil || m.connectionMeta[channelID].Status != StatusActive {
		return nil, ErrChannelNotConnected
	}
	sess := entry.currentSession()
	if sess == nil {
		return nil, ErrChannelNotConnected
	}
	return sess, nil
}

// RequestPairingCode asks the live session for a phone pairing code. When
// no session exists, a connect in pairing mode is started instead and the
// code arrives as a channel.pairing-ready event.
func (m *Manager) RequestPairingCode(ctx context.Context, channelID, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("phone number is required")
	}
	m.mu.Lock()
	entry := m.connections[channelID]
	var sess Session
	if entry != nil {
		sess = entry.currentSession()
	}
	m.mu.Unlock()
	if sess == nil {
		return "", m.Connect(ctx, channelID, ConnectOptions{PairingPhone: phone})
	}
	code, err := sess.RequestPairingCode(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}
	if m.handlesPairingCode(entry, code) {
		m.onPairingArtifact(entry, ConnectionUpdate{PairingCode: code})
	}
	return code, nil
}

func (m *Manager) handlesPairingCode(entry *connectionEntry, code string) bool {
	return strings.TrimSpace(code) != "" && m.isCurrent(entry)
}

// RefreshPairing restarts the connection to obtain a fresh QR or pairing code.
func (m *Manager) RefreshPairing(ctx context.Context, channelID string, opts ConnectOptions) error {
	entry := m.detach(channelID)
	if entry != nil {
		m.teardown(ctx, entry, false)
	}
	return m.Connect(ctx, channelID, opts)
}

// RestoreActiveChannels reconnects every persisted channel whose status
// implies it should be live. Connects are staggered and run in the
// background; the returned count is the number of channels scheduled.
func (m *Manager) RestoreActiveChannels(ctx context.Context) (int, error) {
	items, err := m.store.ListChannelsByStatus(ctx, LiveStatuses)
	if err != nil {
		return 0, fmt.Errorf("list live channels: %w", err)
	}
	restorable := make([]Channel, 0, len(items))
	for _, ch := range items {
		if ch.IsActive && m.registry.IsConnectionBacked(ch.Type) {
			restorable = append(restorable, ch)
		}
	}
	m.logger.Info("restoring channels", slog.Int("count", len(restorable)))
	restoreCtx := context.WithoutCancel(ctx)
	go func() {
		for i, ch := range restorable {
			if i > 0 {
				time.Sleep(m.restoreStagger)
			}
			if m.isClosed() {
				return
			}
			if err := m.Connect(restoreCtx, ch.ID, ConnectOptions{}); err != nil {
				m.logger.Error("channel restore failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
			}
		}
	}()
	return len(restorable), nil
}

// ConnectionStatuses returns observed statuses for all channels with in-memory state.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for _, status := range m.connectionMeta {
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChannelType == items[j].ChannelType {
			return items[i].ChannelID < items[j].ChannelID
		}
		return items[i].ChannelType < items[j].ChannelType
	})
	return items
}

// Shutdown closes every session without logging out, so persisted statuses
// survive for the next restore.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		entries = append(entries, entry)
		delete(m.connections, id)
		m.gateLocked(id).epoch++
	}
	for id, timer := range m.reconnects {
		timer.Stop()
		delete(m.reconnects, id)
	}
	m.mu.Unlock()

	for _, entry := range entries {
		m.teardown(ctx, entry, false)
	}
	m.logger.Info("manager stop", slog.Int("closed", len(entries)))
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) isCurrent(entry *connectionEntry) bool {
	if entry == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[entry.channel.ID] == entry
}

// detach unregisters the channel's entry, cancels its pending reconnect and
// advances the channel epoch. It waits for a transition in progress, so once
// it returns no handler of an older entry can write status or emit events.
func (m *Manager) detach(channelID string) *connectionEntry {
	g := m.gate(channelID)
	g.mu.Lock()
	defer g.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	g.epoch++
	m.cancelReconnectLocked(channelID)
	entry := m.connections[channelID]
	delete(m.connections, channelID)
	return entry
}

func (m *Manager) gate(channelID string) *channelGate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateLocked(channelID)
}

func (m *Manager) gateLocked(channelID string) *channelGate {
	g := m.gates[channelID]
	if g == nil {
		g = &channelGate{}
		m.gates[channelID] = g
	}
	return g
}

func (m *Manager) isFresh(entry *connectionEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freshLocked(entry)
}

// freshLocked reports whether no detach happened since entry was created. Callers
// hold m.mu.
func (m *Manager) freshLocked(entry *connectionEntry) bool {
	return m.gateLocked(entry.channel.ID).epoch == entry.epoch
}

func (m *Manager) teardown(ctx context.Context, entry *connectionEntry, logout bool) {
	sess := entry.currentSession()
	if sess == nil {
		return
	}
	if logout {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		if err := sess.Logout(logoutCtx); err != nil {
			m.logger.Warn("session logout failed", slog.String("channel_id", entry.channel.ID), slog.Any("error", err))
		}
		cancel()
	}
	if err := sess.Close(); err != nil {
		m.logger.Warn("session close failed", slog.String("channel_id", entry.channel.ID), slog.Any("error", err))
	}
}

func (m *Manager) cancelReconnectLocked(channelID string) {
	if timer, ok := m.reconnects[channelID]; ok {
		timer.Stop()
		delete(m.reconnects, channelID)
	}
}

func (m *Manager) applyStatus(ctx context.Context, entry *connectionEntry, ch Channel, status Status, event ChannelEvent) bool {
	return m.transition(ctx, entry, ch, nil, status, event)
}

// transition persists patch (session channels only), records the status in
// memory and in the store, notifies the observer, and emits channel.status
// plus the event's own kind. Transitions of one channel never interleave.
// A transition on behalf of entry is dropped, and false returned, once entry
// is stale; a nil entry is a direct user action and always applies.
func (m *Manager) transition(ctx context.Context, entry *connectionEntry, ch Channel, patch *SessionConfigPatch, status Status, event ChannelEvent) bool {
	g := m.gate(ch.ID)
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry != nil && !m.isFresh(entry) {
		m.logger.Debug("stale transition discarded", slog.String("channel_id", ch.ID), slog.String("status", status.String()))
		return false
	}
	if patch != nil && ch.Type == TypeSession && m.store != nil {
		if err := m.store.UpdateSessionConfig(ctx, ch.ID, *patch); err != nil {
			m.logger.Error("persist session config failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
		}
	}

	m.mu.Lock()
	previous, hasPrevious := m.connectionMeta[ch.ID]
	live := m.connections[ch.ID]
	current := ConnectionStatus{
		ChannelID:   ch.ID,
		ChannelType: ch.Type,
		Status:      status,
		Running:     live != nil && status.Live(),
		Address:     previous.Address,
		LastError:   event.Error,
		UpdatedAt:   time.Now().UTC(),
	}
	if event.Address != "" {
		current.Address = event.Address
	}
	m.connectionMeta[ch.ID] = current
	m.mu.Unlock()

	if event.Error != "" && (!hasPrevious || previous.LastError != event.Error) {
		m.logger.Warn("connection failed", slog.String("channel_id", ch.ID), slog.String("channel", ch.Type.String()), slog.String("error", event.Error))
	}
	if status == StatusActive && hasPrevious && strings.TrimSpace(previous.LastError) != "" {
		m.logger.Info("connection recovered", slog.String("channel_id", ch.ID), slog.String("channel", ch.Type.String()))
	}

	if m.store != nil {
		if err := m.store.UpdateStatus(ctx, ch.ID, status); err != nil {
			m.logger.Error("persist status failed", slog.String("channel_id", ch.ID), slog.String("status", status.String()), slog.Any("error", err))
		}
	}
	from := ch.Status
	if hasPrevious {
		from = previous.Status
	}
	if m.observer != nil && from != status {
		m.observer.StatusChanged(ch.Type, from, status)
	}
	m.logger.Info("channel status", slog.String("channel_id", ch.ID), slog.String("from", from.String()), slog.String("to", status.String()))

	if m.processor == nil {
		return true
	}
	event.ChannelID = ch.ID
	event.Status = status
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	statusEvent := event
	statusEvent.Kind = webhook.EventChannelStatus
	m.processor.ProcessChannelEvent(ctx, statusEvent)
	if event.Kind != "" && event.Kind != statusEvent.Kind {
		m.processor.ProcessChannelEvent(ctx, event)
	}
	return true
}
