package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// connectionEntry is the registration token of one connect attempt. Events
// are honored only while the entry is the one registered for its channel.
type connectionEntry struct {
	channel Channel
	opts    ConnectOptions
	epoch   uint64

	mu      sync.Mutex
	session Session
}

func (e *connectionEntry) currentSession() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *connectionEntry) setSession(sess Session) {
	e.mu.Lock()
	e.session = sess
	e.mu.Unlock()
}

// Connect opens the channel's session. It is a no-op when a session exists
// or a connect is already in flight for the channel. A failed attempt leaves
// the channel in error.
func (m *Manager) Connect(ctx context.Context, channelID string, opts ConnectOptions) error {
	return m.connect(ctx, channelID, opts, false)
}

// connect with retry set is a reconnect attempt: a failure keeps the channel
// connecting and schedules the next attempt.
func (m *Manager) connect(ctx context.Context, channelID string, opts ConnectOptions, retry bool) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	ch, err := m.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.IsActive {
		return ErrChannelDisabled
	}
	receiver, ok := m.registry.GetReceiver(ch.Type)
	if !ok {
		return ErrNotConnectionBacked
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if existing := m.connections[channelID]; existing != nil {
		m.mu.Unlock()
		m.logger.Debug("connect skipped, connection exists", slog.String("channel_id", channelID))
		return nil
	}
	m.cancelReconnectLocked(channelID)
	entry := &connectionEntry{channel: ch, opts: opts, epoch: m.gateLocked(channelID).epoch}
	m.connections[channelID] = entry
	m.mu.Unlock()

	m.logger.Info("adapter start", slog.String("channel_id", channelID), slog.String("channel", ch.Type.String()), slog.Bool("retry", retry))
	m.applyStatus(ctx, entry, ch, StatusConnecting, ChannelEvent{})

	if m.creds == nil {
		return m.failConnect(ctx, entry, fmt.Errorf("credential store not configured"), retry)
	}
	state, err := m.creds.LoadOrInit(ctx, channelID)
	if err != nil {
		return m.failConnect(ctx, entry, fmt.Errorf("load credentials: %w", err), retry)
	}

	// Decouple long-lived sessions from short-lived request contexts.
	connectCtx := context.WithoutCancel(ctx)
	sess, err := receiver.Connect(connectCtx, ch, state, opts, &connectionSink{manager: m, entry: entry})
	if err != nil {
		return m.failConnect(ctx, entry, err, retry)
	}

	// Final check: a disconnect or remove may have raced the open.
	if !m.isCurrent(entry) {
		m.logger.Info("connect superseded, closing session", slog.String("channel_id", channelID))
		_ = sess.Close()
		return nil
	}
	entry.setSession(sess)
	return nil
}

func (m *Manager) failConnect(ctx context.Context, entry *connectionEntry, cause error, retry bool) error {
	err := fmt.Errorf("%w: %w", ErrConnectFailed, cause)
	if !m.release(entry) {
		return err
	}
	if retry {
		if m.applyStatus(ctx, entry, entry.channel, StatusConnecting, ChannelEvent{Error: cause.Error()}) {
			m.scheduleReconnect(entry)
		}
		return err
	}
	m.applyStatus(ctx, entry, entry.channel, StatusError, ChannelEvent{
		Kind:  webhook.EventChannelError,
		Error: cause.Error(),
	})
	return err
}

// release unregisters entry if it is still the channel's connection.
func (m *Manager) release(entry *connectionEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[entry.channel.ID] != entry {
		return false
	}
	delete(m.connections, entry.channel.ID)
	return true
}

// connectionSink routes one session's events back into the manager.
type connectionSink struct {
	manager *Manager
	entry   *connectionEntry
}

func (s *connectionSink) ConnectionUpdate(update ConnectionUpdate) {
	m := s.manager
	if !m.isCurrent(s.entry) {
		m.logger.Debug("stale connection update discarded", slog.String("channel_id", s.entry.channel.ID))
		return
	}
	switch {
	case update.State == ConnStateClose:
		m.onClose(s.entry, update)
	case update.State == ConnStateOpen:
		m.onOpen(s.entry, update)
	case update.QR != "" || update.PairingCode != "":
		m.onPairingArtifact(s.entry, update)
	}
}

func (s *connectionSink) CredsUpdate(update CredsUpdate) {
	m := s.manager
	if !m.isCurrent(s.entry) || m.creds == nil {
		return
	}
	ctx := context.Background()
	id := s.entry.channel.ID
	if len(update.Creds) > 0 {
		if err := m.creds.SaveCreds(ctx, id, update.Creds); err != nil {
			m.logger.Error("save creds failed", slog.String("channel_id", id), slog.Any("error", err))
		}
	}
	if len(update.Keys) > 0 {
		if err := m.creds.SaveKeys(ctx, id, update.Keys); err != nil {
			m.logger.Error("save keys failed", slog.String("channel_id", id), slog.Any("error", err))
		}
	}
}

func (s *connectionSink) Messages(msgs []RawMessage) {
	m := s.manager
	if len(msgs) == 0 || m.processor == nil || !m.isCurrent(s.entry) {
		return
	}
	m.processor.ProcessMessages(context.Background(), s.entry.channel, s.entry.currentSession(), msgs)
}

func (s *connectionSink) Receipts(receipts []RawReceipt) {
	m := s.manager
	if len(receipts) == 0 || m.processor == nil || !m.isCurrent(s.entry) {
		return
	}
	m.processor.ProcessReceipts(context.Background(), s.entry.channel, receipts)
}

func (s *connectionSink) Calls(calls []RawCall) {
	m := s.manager
	if len(calls) == 0 || m.processor == nil || !m.isCurrent(s.entry) {
		return
	}
	m.processor.ProcessCalls(context.Background(), s.entry.channel, calls)
}

func (s *connectionSink) GroupsUpdate(updates []GroupUpdate) {
	m := s.manager
	if len(updates) == 0 || m.processor == nil || !m.isCurrent(s.entry) {
		return
	}
	m.processor.ProcessGroupUpdates(context.Background(), s.entry.channel, updates)
}

func (m *Manager) onPairingArtifact(entry *connectionEntry, update ConnectionUpdate) {
	ctx := context.Background()
	patch := SessionConfigPatch{}
	status := StatusQRReady
	event := ChannelEvent{Kind: webhook.EventChannelQRReady, QR: update.QR}
	if update.PairingCode != "" {
		patch.PairingCode = stringPtr(update.PairingCode)
		status = StatusPairingCodeReady
		event = ChannelEvent{Kind: webhook.EventChannelPairing, PairingCode: update.PairingCode}
	} else {
		patch.QRCode = stringPtr(update.QR)
	}
	m.transition(ctx, entry, entry.channel, &patch, status, event)
}

func (m *Manager) onOpen(entry *connectionEntry, update ConnectionUpdate) {
	ctx := context.Background()
	patch := SessionConfigPatch{
		QRCode:      stringPtr(""),
		PairingCode: stringPtr(""),
	}
	if update.Address != "" {
		patch.Address = stringPtr(update.Address)
	}
	if update.PushName != "" {
		patch.PushName = stringPtr(update.PushName)
	}
	m.transition(ctx, entry, entry.channel, &patch, StatusActive, ChannelEvent{
		Kind:    webhook.EventChannelConnected,
		Address: update.Address,
	})
}

func (m *Manager) onClose(entry *connectionEntry, update ConnectionUpdate) {
	ctx := context.Background()
	id := entry.channel.ID
	if !m.release(entry) {
		return
	}
	if sess := entry.currentSession(); sess != nil {
		_ = sess.Close()
	}

	reason := ""
	if update.Reason != nil {
		reason = update.Reason.Message
	}
	if update.Unrecoverable() {
		m.logger.Warn("session logged out", slog.String("channel_id", id), slog.String("reason", reason))
		if !m.applyStatus(ctx, entry, entry.channel, StatusLoggedOut, ChannelEvent{
			Kind:  webhook.EventChannelDisconn,
			Error: reason,
		}) {
			return
		}
		if err := m.creds.Purge(ctx, id); err != nil && !errors.Is(err, credentials.ErrRecordNotFound) {
			m.logger.Warn("purge credentials failed", slog.String("channel_id", id), slog.Any("error", err))
		}
		return
	}

	m.logger.Info("session closed, reconnect scheduled", slog.String("channel_id", id), slog.String("reason", reason), slog.Duration("delay", m.reconnectDelay))
	if m.applyStatus(ctx, entry, entry.channel, StatusConnecting, ChannelEvent{Error: reason}) {
		m.scheduleReconnect(entry)
	}
}

// scheduleReconnect arms the channel's reconnect timer unless entry went
// stale. Attempts repeat on the fixed delay until one opens a session or the
// channel can no longer connect at all.
func (m *Manager) scheduleReconnect(entry *connectionEntry) {
	ch := entry.channel
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.freshLocked(entry) {
		return
	}
	m.cancelReconnectLocked(ch.ID)
	var timer *time.Timer
	timer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		if m.reconnects[ch.ID] != timer {
			m.mu.Unlock()
			return
		}
		delete(m.reconnects, ch.ID)
		m.mu.Unlock()
		err := m.connect(context.Background(), ch.ID, entry.opts, true)
		if err == nil {
			return
		}
		m.logger.Error("reconnect failed", slog.String("channel_id", ch.ID), slog.Any("error", err))
		if !errors.Is(err, ErrConnectFailed) && !terminalConnectError(err) {
			m.scheduleReconnect(entry)
		}
	})
	m.reconnects[ch.ID] = timer
	if m.observer != nil {
		m.observer.ReconnectScheduled(ch.Type)
	}
}

// terminalConnectError reports failures no later attempt can fix.
func terminalConnectError(err error) bool {
	return errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrChannelDisabled) ||
		errors.Is(err, ErrNotConnectionBacked) ||
		errors.Is(err, ErrManagerClosed)
}
