package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/providers"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, h interface{ Register(*echo.Echo) }, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{channel.ErrChannelNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", webhook.ErrSubscriptionNotFound), http.StatusNotFound},
		{media.ErrAssetNotFound, http.StatusNotFound},
		{fmt.Errorf("group metadata: %w", channel.ErrRemoteNotFound), http.StatusNotFound},
		{channel.ErrUnsupportedChannelType, http.StatusBadRequest},
		{channel.ErrChannelNotConnected, http.StatusConflict},
		{channel.ErrChannelDisabled, http.StatusConflict},
		{providers.ErrUnknownProvider, http.StatusBadRequest},
		{providers.ErrProviderMismatch, http.StatusBadRequest},
		{fmt.Errorf("%w: text is required", channel.ErrInvalidMessage), http.StatusBadRequest},
		{providers.ErrDestinationNotRegistered, http.StatusUnprocessableEntity},
		{channel.ErrEnableChannelFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

type fakeSender struct {
	mu    sync.Mutex
	calls []SendRequest
	send  func(SendRequest) (providers.Result, error)
	bulk  []providers.BulkItem
}

func (f *fakeSender) Send(_ context.Context, provider, channelID, recipient string, msg channel.OutboundMessage, opts providers.Options) (providers.Result, error) {
	req := SendRequest{Provider: provider, ChannelID: channelID, Recipient: recipient, Message: msg, Options: opts}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.send(req)
}

func (f *fakeSender) SendBulk(_ context.Context, items []providers.BulkItem) providers.BulkResult {
	f.mu.Lock()
	f.bulk = items
	f.mu.Unlock()
	return providers.BulkResult{Total: len(items), Succeeded: len(items), Results: make([]providers.Result, len(items))}
}

type fakeChannels map[string]channel.Channel

func (f fakeChannels) GetChannel(_ context.Context, channelID string) (channel.Channel, error) {
	ch, ok := f[channelID]
	if !ok {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return ch, nil
}

func (f fakeChannels) ListChannels(context.Context) ([]channel.Channel, error) {
	out := make([]channel.Channel, 0, len(f))
	for _, ch := range f {
		out = append(out, ch)
	}
	return out, nil
}

func TestSendMapsOutcomes(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{send: func(req SendRequest) (providers.Result, error) {
		switch req.Recipient {
		case "ok":
			return providers.Result{Success: true, Provider: req.Provider, MessageID: "m-1", ChannelID: req.ChannelID}, nil
		case "down":
			return providers.Result{Provider: req.Provider, ChannelID: req.ChannelID, Error: &providers.ResultError{Code: providers.CodeProviderError, Message: "upstream 500"}}, nil
		default:
			return providers.Result{Provider: req.Provider, ChannelID: req.ChannelID, Error: &providers.ResultError{Code: providers.CodeChannelNotFound}}, channel.ErrChannelNotFound
		}
	}}
	h := &MessageHandler{logger: discardLogger(), sender: sender, channels: fakeChannels{}}

	rec := serve(t, h, http.MethodPost, "/messages", `{"provider":"telegram","channelId":"tg-1","recipient":"ok","message":{"type":"text","text":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[providers.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "m-1", res.MessageID)

	rec = serve(t, h, http.MethodPost, "/messages", `{"provider":"telegram","channelId":"tg-1","recipient":"down","message":{"text":"hi"}}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, providers.CodeProviderError, decode[providers.Result](t, rec).Error.Code)

	rec = serve(t, h, http.MethodPost, "/messages", `{"provider":"telegram","channelId":"missing","recipient":"x","message":{"text":"hi"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, providers.CodeChannelNotFound, decode[providers.Result](t, rec).Error.Code)

	rec = serve(t, h, http.MethodPost, "/messages", `{"provider":"telegram","recipient":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendToChannelDefaultsProvider(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{send: func(req SendRequest) (providers.Result, error) {
		return providers.Result{Success: true, Provider: req.Provider}, nil
	}}
	h := &MessageHandler{
		logger:   discardLogger(),
		sender:   sender,
		channels: fakeChannels{"wa-1": {ID: "wa-1", Type: channel.TypeSession}},
	}

	rec := serve(t, h, http.MethodPost, "/channels/wa-1/messages", `{"recipient":"15550001111","message":{"text":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, channel.TypeSession.String(), sender.calls[0].Provider)
	assert.Equal(t, "wa-1", sender.calls[0].ChannelID)

	rec = serve(t, h, http.MethodPost, "/channels/nope/messages", `{"recipient":"1","message":{"text":"hi"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendBulk(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := &MessageHandler{logger: discardLogger(), sender: sender, channels: fakeChannels{}}

	rec := serve(t, h, http.MethodPost, "/messages/bulk", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/messages/bulk", `{"messages":[{"provider":"slack","channelId":"s-1","recipient":"C1","message":{"text":"a"}},{"provider":"slack","channelId":"s-1","recipient":"C2","message":{"text":"b"}}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[providers.BulkResult](t, rec)
	assert.Equal(t, 2, out.Total)
	require.Len(t, sender.bulk, 2)
	assert.Equal(t, "C2", sender.bulk[1].Recipient)
}

type fakeLifecycle struct {
	created   channel.CreateChannelRequest
	connect   bool
	opts      channel.ConnectOptions
	deleteErr error
}

func (f *fakeLifecycle) CreateChannel(_ context.Context, req channel.CreateChannelRequest, connect bool, opts channel.ConnectOptions) (channel.Channel, error) {
	f.created, f.connect, f.opts = req, connect, opts
	return channel.Channel{ID: req.ID, Type: req.Type, Name: req.Name, Config: req.Config, IsActive: true}, nil
}

func (f *fakeLifecycle) DeleteChannel(context.Context, string) error {
	return f.deleteErr
}

func (f *fakeLifecycle) SetActive(_ context.Context, channelID string, active bool) (channel.Channel, error) {
	return channel.Channel{ID: channelID, IsActive: active}, nil
}

type fakeControl struct {
	connected []channel.ConnectOptions
	code      string
}

func (f *fakeControl) Connect(_ context.Context, _ string, opts channel.ConnectOptions) error {
	f.connected = append(f.connected, opts)
	return nil
}

func (f *fakeControl) Disconnect(context.Context, string) error { return nil }

func (f *fakeControl) Status(_ context.Context, channelID string) (channel.ConnectionStatus, error) {
	return channel.ConnectionStatus{ChannelID: channelID, Status: channel.StatusConnecting, Running: true}, nil
}

func (f *fakeControl) ConnectionStatuses() []channel.ConnectionStatus { return nil }

func (f *fakeControl) RequestPairingCode(context.Context, string, string) (string, error) {
	return f.code, nil
}

func (f *fakeControl) RefreshPairing(_ context.Context, _ string, opts channel.ConnectOptions) error {
	f.connected = append(f.connected, opts)
	return nil
}

type stubAdapter struct {
	channelType channel.ChannelType
	backed      bool
}

func (a stubAdapter) Type() channel.ChannelType { return a.channelType }

func (a stubAdapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{Type: a.channelType, DisplayName: string(a.channelType), ConnectionBacked: a.backed}
}

func newChannelHandler(lifecycle *fakeLifecycle, control *fakeControl, channels fakeChannels) *ChannelHandler {
	registry := channel.NewRegistry()
	registry.MustRegister(stubAdapter{channelType: channel.TypeSession, backed: true})
	registry.MustRegister(stubAdapter{channelType: channel.TypeTelegram})
	return &ChannelHandler{
		logger:    discardLogger(),
		lifecycle: lifecycle,
		store:     channels,
		manager:   control,
		registry:  registry,
	}
}

func TestCreateChannelDecodesConfig(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	h := newChannelHandler(lifecycle, &fakeControl{}, fakeChannels{})

	rec := serve(t, h, http.MethodPost, "/channels", `{"channel_id":"tg-1","type":"telegram","name":" Alerts ","config":{"bot_token":"abc"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, lifecycle.created.Config.Telegram)
	assert.Equal(t, "abc", lifecycle.created.Config.Telegram.BotToken)
	assert.Equal(t, "Alerts", lifecycle.created.Name)
	assert.True(t, lifecycle.connect)

	rec = serve(t, h, http.MethodPost, "/channels", `{"channel_id":"wa-1","type":"session","connect":false,"pairing_phone":"15550001111"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, lifecycle.connect)
	assert.Equal(t, "15550001111", lifecycle.opts.PairingPhone)

	rec = serve(t, h, http.MethodPost, "/channels", `{"channel_id":"x","type":"fax"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, http.MethodPost, "/channels", `{"channel_id":"x","type":"telegram","config":{"bot_token":5}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteChannelReportsPartialPurge(t *testing.T) {
	t.Parallel()

	lifecycle := &fakeLifecycle{}
	h := newChannelHandler(lifecycle, &fakeControl{}, fakeChannels{})

	rec := serve(t, h, http.MethodDelete, "/channels/ch-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	lifecycle.deleteErr = fmt.Errorf("%w: media: disk gone", channel.ErrPurgeIncomplete)
	rec = serve(t, h, http.MethodDelete, "/channels/ch-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["deleted"])
	assert.Contains(t, body["warning"], "disk gone")

	lifecycle.deleteErr = channel.ErrChannelNotFound
	rec = serve(t, h, http.MethodDelete, "/channels/ch-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPairingEndpoints(t *testing.T) {
	t.Parallel()

	control := &fakeControl{}
	channels := fakeChannels{
		"wa-1": {ID: "wa-1", Type: channel.TypeSession, Status: channel.StatusQRReady, Config: channel.Config{Session: &channel.SessionConfig{QRCode: "2@abc"}}},
		"wa-2": {ID: "wa-2", Type: channel.TypeSession, Config: channel.Config{Session: &channel.SessionConfig{}}},
		"tg-1": {ID: "tg-1", Type: channel.TypeTelegram, Config: channel.Config{Telegram: &channel.TelegramConfig{BotToken: "t"}}},
	}
	h := newChannelHandler(&fakeLifecycle{}, control, channels)

	rec := serve(t, h, http.MethodGet, "/channels/wa-1/pairing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pairing := decode[PairingResponse](t, rec)
	assert.Equal(t, "2@abc", pairing.QRCode)
	assert.Equal(t, channel.StatusQRReady, pairing.Status)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/channels/wa-2/pairing", "").Code)
	assert.Equal(t, http.StatusConflict, serve(t, h, http.MethodGet, "/channels/tg-1/pairing", "").Code)

	rec = serve(t, h, http.MethodPost, "/channels/wa-1/pairing-code", `{"phone_number":"+15550001111"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	control.code = "ABCD-EFGH"
	rec = serve(t, h, http.MethodPost, "/channels/wa-1/pairing-code", `{"phone_number":"15550001111"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABCD-EFGH", decode[PairingResponse](t, rec).PairingCode)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodPost, "/channels/wa-1/pairing-code", `{}`).Code)

	rec = serve(t, h, http.MethodPost, "/channels/wa-1/pairing/refresh", `{"pairing_phone":"15550001111"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, control.connected, 1)
	assert.Equal(t, "15550001111", control.connected[0].PairingPhone)
}

type fakeDirectory struct {
	hidden map[string]string
}

func (f fakeDirectory) CheckAddress(_ context.Context, _ string, address string) (bool, error) {
	return address == "15550001111", nil
}

func (f fakeDirectory) ResolveHiddenID(_ context.Context, _ string, hiddenID string) (string, error) {
	return f.hidden[hiddenID], nil
}

func (f fakeDirectory) HiddenIDFor(_ context.Context, channelID, _ string) (string, error) {
	if channelID == "down" {
		return "", channel.ErrChannelNotConnected
	}
	return "", nil
}

func (f fakeDirectory) GroupMetadata(_ context.Context, _ string, groupID string) (channel.GroupMetadata, error) {
	return channel.GroupMetadata{ID: groupID + "@g.us", Subject: "Team"}, nil
}

func (f fakeDirectory) ProfilePhoto(_ context.Context, _ string, address string) (providers.Profile, error) {
	return providers.Profile{Address: address, PhotoURL: "https://pps.example.com/p.jpg"}, nil
}

func (f fakeDirectory) ProfileStatus(_ context.Context, _ string, address string) (providers.Profile, error) {
	return providers.Profile{Address: address, Status: "busy"}, nil
}

func TestContactLookups(t *testing.T) {
	t.Parallel()

	h := &ContactHandler{logger: discardLogger(), directory: fakeDirectory{hidden: map[string]string{"123": "15550001111@s.whatsapp.net"}}}

	rec := serve(t, h, http.MethodGet, "/channels/wa-1/contacts/15550001111/exists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AddressCheckResponse](t, rec).Exists)

	rec = serve(t, h, http.MethodGet, "/channels/wa-1/hidden-ids/123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15550001111@s.whatsapp.net", decode[HiddenIDResponse](t, rec).Address)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/channels/wa-1/hidden-ids/999", "").Code)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/channels/wa-1/contacts/1555/hidden-id", "").Code)
	assert.Equal(t, http.StatusConflict, serve(t, h, http.MethodGet, "/channels/down/contacts/1555/hidden-id", "").Code)

	rec = serve(t, h, http.MethodGet, "/channels/wa-1/contacts/1555/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "busy", decode[providers.Profile](t, rec).Status)

	rec = serve(t, h, http.MethodGet, "/channels/wa-1/groups/g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Team", decode[channel.GroupMetadata](t, rec).Subject)
}

type fakeMedia map[string][]byte

func (f fakeMedia) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	data, ok := f[key]
	if !ok {
		return nil, "", media.ErrAssetNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/png", nil
}

func TestMediaServe(t *testing.T) {
	t.Parallel()

	h := &MediaHandler{logger: discardLogger(), media: fakeMedia{"ch-1/ab/abcd.png": []byte("png-bytes")}}

	rec := serve(t, h, http.MethodGet, "/media/ch-1/ab/abcd.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "png-bytes", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/media/ch-1/missing", "").Code)
}

type fakeEvents struct {
	limit     int
	messageID string
}

func (f *fakeEvents) List(_ context.Context, channelID, messageID string, limit int) ([]eventlog.Entry, error) {
	f.limit, f.messageID = limit, messageID
	return []eventlog.Entry{{ID: 1, ChannelID: channelID, MessageID: "m-1"}}, nil
}

func TestEventListLimits(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	h := &EventHandler{logger: discardLogger(), events: events}

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/channels/ch-1/events", "").Code)
	assert.Equal(t, defaultEventLimit, events.limit)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/channels/ch-1/events?limit=10000&message_id=m-1", "").Code)
	assert.Equal(t, maxEventLimit, events.limit)
	assert.Equal(t, "m-1", events.messageID)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/channels/ch-1/events?limit=-1", "").Code)
}
