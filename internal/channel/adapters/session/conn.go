package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/credentials"
)

// ErrSessionClosed is returned by calls on a closed session.
var ErrSessionClosed = errors.New("session closed")

// codeTransportLost is reported when the bridge socket drops without a close event.
const codeTransportLost = 503

// conn is one channel's bridge socket. It implements channel.Session.
type conn struct {
	ws             *websocket.Conn
	channelID      string
	sink           channel.EventSink
	requestTimeout time.Duration
	logger         *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame

	events *eventQueue

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, channelID string, sink channel.EventSink, requestTimeout time.Duration, log *slog.Logger) *conn {
	return &conn{
		ws:             ws,
		channelID:      channelID,
		sink:           sink,
		requestTimeout: requestTimeout,
		logger:         log,
		pending:        map[string]chan Frame{},
		events:         newEventQueue(),
		done:           make(chan struct{}),
	}
}

// start runs the socket reader and the event worker.
func (c *conn) start() {
	go c.events.run()
	go c.readLoop()
}

// send writes a frame to the socket (thread-safe).
func (c *conn) send(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(frame)
}

// call issues a request and decodes the response payload into out.
func (c *conn) call(ctx context.Context, method string, params any, out any) error {
	if c.closed.Load() {
		return ErrSessionClosed
	}
	id := uuid.NewString()
	frame, err := requestFrame(id, method, params)
	if err != nil {
		return err
	}
	reply := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(frame); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		if res.OK == nil || !*res.OK {
			if res.Error != nil {
				return res.Error
			}
			return fmt.Errorf("%s failed", method)
		}
		if out != nil && len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %s", method, c.requestTimeout)
	case <-c.done:
		return ErrSessionClosed
	}
}

// readLoop hands replies to waiting calls and queues events for the sink
// in arrival order. If the socket drops on its own, a close update is queued
// behind the events already received.
func (c *conn) readLoop() {
	defer c.shutdown()
	for {
		var frame Frame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("bridge read failed", slog.Any("error", err))
			c.closed.Store(true)
			update := channel.ConnectionUpdate{
				State:  channel.ConnStateClose,
				Reason: &channel.DisconnectReason{Code: codeTransportLost, Message: err.Error()},
			}
			c.events.push(func() { c.sink.ConnectionUpdate(update) })
			c.events.close(false)
			return
		}
		switch frame.Type {
		case frameRes:
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				reply <- frame
			}
		case frameEvent:
			c.events.push(func() { c.dispatch(frame) })
		default:
			c.logger.Debug("ignoring bridge frame", slog.String("type", frame.Type))
		}
	}
}

func (c *conn) dispatch(frame Frame) {
	var err error
	switch frame.Event {
	case eventConnectionUpdate:
		var update channel.ConnectionUpdate
		if err = json.Unmarshal(frame.Payload, &update); err == nil {
			c.sink.ConnectionUpdate(update)
		}
	case eventCredsUpdate:
		var payload credsPayload
		if err = json.Unmarshal(frame.Payload, &payload); err == nil {
			err = c.deliverCreds(payload)
		}
	case eventMessagesUpsert:
		var msgs []channel.RawMessage
		if err = json.Unmarshal(frame.Payload, &msgs); err == nil {
			c.sink.Messages(msgs)
		}
	case eventReceiptsUpdate:
		var receipts []channel.RawReceipt
		if err = json.Unmarshal(frame.Payload, &receipts); err == nil {
			c.sink.Receipts(receipts)
		}
	case eventCalls:
		var calls []channel.RawCall
		if err = json.Unmarshal(frame.Payload, &calls); err == nil {
			c.sink.Calls(calls)
		}
	case eventGroupsUpdate:
		var updates []channel.GroupUpdate
		if err = json.Unmarshal(frame.Payload, &updates); err == nil {
			c.sink.GroupsUpdate(updates)
		}
	default:
		c.logger.Debug("ignoring bridge event", slog.String("event", frame.Event))
		return
	}
	if err != nil {
		c.logger.Warn("invalid bridge event", slog.String("event", frame.Event), slog.Any("error", err))
	}
}

func (c *conn) deliverCreds(payload credsPayload) error {
	update := channel.CredsUpdate{}
	if payload.Creds != "" {
		creds, err := credentials.Decode(payload.Creds)
		if err != nil {
			return err
		}
		update.Creds = creds
	}
	if len(payload.Keys) > 0 {
		keys, err := credentials.DecodeKeys(payload.Keys)
		if err != nil {
			return err
		}
		update.Keys = keys
	}
	c.sink.CredsUpdate(update)
	return nil
}

func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Close drops the socket without logging out. Queued events are discarded
// and no close update is reported.
func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.events.close(true)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

func (c *conn) Logout(ctx context.Context) error {
	return c.call(ctx, methodSessionLogout, struct{}{}, nil)
}

func (c *conn) SendMessage(ctx context.Context, msg channel.OutboundMessage) (channel.SendReceipt, error) {
	var raw map[string]any
	if err := c.call(ctx, methodMessageSend, msg, &raw); err != nil {
		return channel.SendReceipt{}, err
	}
	receipt := channel.SendReceipt{Raw: raw}
	if id, ok := raw["message_id"].(string); ok {
		receipt.MessageID = id
	}
	return receipt, nil
}

func (c *conn) CheckAddress(ctx context.Context, address string) (bool, error) {
	var res checkResult
	if err := c.call(ctx, methodContactCheck, addressParams{Address: address}, &res); err != nil {
		return false, err
	}
	return res.Exists, nil
}

func (c *conn) ResolveHiddenID(ctx context.Context, hiddenID string) (string, error) {
	var res resolveResult
	if err := c.call(ctx, methodContactResolve, hiddenIDParams{HiddenID: hiddenID}, &res); err != nil {
		return "", err
	}
	return res.Address, nil
}

func (c *conn) HiddenIDFor(ctx context.Context, address string) (string, error) {
	var res resolveResult
	if err := c.call(ctx, methodContactResolve, addressParams{Address: address}, &res); err != nil {
		return "", err
	}
	return res.HiddenID, nil
}

func (c *conn) GroupMetadata(ctx context.Context, groupID string) (channel.GroupMetadata, error) {
	var meta channel.GroupMetadata
	if err := c.call(ctx, methodGroupMetadata, groupParams{GroupID: groupID}, &meta); err != nil {
		return channel.GroupMetadata{}, err
	}
	return meta, nil
}

func (c *conn) ProfilePhotoURL(ctx context.Context, address string) (string, error) {
	var res photoResult
	if err := c.call(ctx, methodContactPhoto, addressParams{Address: address}, &res); err != nil {
		return "", err
	}
	return res.URL, nil
}

func (c *conn) ProfileStatus(ctx context.Context, address string) (string, error) {
	var res statusResult
	if err := c.call(ctx, methodContactStatus, addressParams{Address: address}, &res); err != nil {
		return "", err
	}
	return res.Status, nil
}

func (c *conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	var res pairingResult
	if err := c.call(ctx, methodPairingRequest, phoneParams{Phone: phone}, &res); err != nil {
		return "", err
	}
	return res.Code, nil
}
