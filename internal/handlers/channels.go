package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

type channelReader interface {
	GetChannel(ctx context.Context, channelID string) (channel.Channel, error)
	ListChannels(ctx context.Context) ([]channel.Channel, error)
}

type channelLifecycle interface {
	CreateChannel(ctx context.Context, req channel.CreateChannelRequest, connect bool, opts channel.ConnectOptions) (channel.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SetActive(ctx context.Context, channelID string, active bool) (channel.Channel, error)
}

type connectionControl interface {
	Connect(ctx context.Context, channelID string, opts channel.ConnectOptions) error
	Disconnect(ctx context.Context, channelID string) error
	Status(ctx context.Context, channelID string) (channel.ConnectionStatus, error)
	ConnectionStatuses() []channel.ConnectionStatus
	RequestPairingCode(ctx context.Context, channelID, phone string) (string, error)
	RefreshPairing(ctx context.Context, channelID string, opts channel.ConnectOptions) error
}

type ChannelHandler struct {
	logger    *slog.Logger
	lifecycle channelLifecycle
	store     channelReader
	manager   connectionControl
	registry  *channel.Registry
}

func NewChannelHandler(log *slog.Logger, lifecycle *channel.Lifecycle, store *channel.PgStore, manager *channel.Manager, registry *channel.Registry) *ChannelHandler {
	return &ChannelHandler{
		logger:    log.With(slog.String("handler", "channel")),
		lifecycle: lifecycle,
		store:     store,
		manager:   manager,
		registry:  registry,
	}
}

func (h *ChannelHandler) Register(e *echo.Echo) {
	e.GET("/channel-types", h.ListTypes)
	e.GET("/channels/status", h.ListStatuses)

	group := e.Group("/channels")
	group.POST("", h.CreateChannel)
	group.GET("", h.ListChannels)
	group.GET("/:id", h.GetChannel)
	group.PATCH("/:id", h.UpdateChannel)
	group.DELETE("/:id", h.DeleteChannel)
	group.POST("/:id/connect", h.Connect)
	group.POST("/:id/disconnect", h.Disconnect)
	group.GET("/:id/status", h.Status)
	group.POST("/:id/pairing-code", h.RequestPairingCode)
	group.POST("/:id/pairing/refresh", h.RefreshPairing)
	group.GET("/:id/pairing", h.GetPairing)
}

type CreateChannelRequest struct {
	ID           string          `json:"channel_id"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Config       json.RawMessage `json:"config"`
	IsActive     *bool           `json:"is_active,omitempty"`
	Connect      *bool           `json:"connect,omitempty"`
	PairingPhone string          `json:"pairing_phone,omitempty"`
}

type UpdateChannelRequest struct {
	IsActive *bool `json:"is_active"`
}

type ConnectRequest struct {
	PairingPhone string `json:"pairing_phone,omitempty"`
}

type PairingCodeRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type PairingResponse struct {
	ChannelID   string         `json:"channel_id"`
	Status      channel.Status `json:"status"`
	QRCode      string         `json:"qr_code,omitempty"`
	PairingCode string         `json:"pairing_code,omitempty"`
}

func (h *ChannelHandler) ListTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"items": h.registry.ListDescriptors()})
}

func (h *ChannelHandler) ListStatuses(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"items": h.manager.ConnectionStatuses()})
}

// CreateChannel godoc
// @Summary Create channel
// @Description Store a channel and, for session channels, start connecting it
// @Tags channels
// @Param payload body CreateChannelRequest true "Channel"
// @Success 201 {object} channel.Channel
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /channels [post]
func (h *ChannelHandler) CreateChannel(c echo.Context) error {
	var req CreateChannelRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	channelType, err := h.registry.ParseChannelType(req.Type)
	if err != nil {
		return httpError(err)
	}
	cfg, err := channel.DecodeConfig(channelType, req.Config)
	if err != nil {
		return httpError(err)
	}
	connect := req.Connect == nil || *req.Connect
	created, err := h.lifecycle.CreateChannel(c.Request().Context(), channel.CreateChannelRequest{
		ID:       strings.TrimSpace(req.ID),
		Type:     channelType,
		Name:     strings.TrimSpace(req.Name),
		Config:   cfg,
		IsActive: req.IsActive,
	}, connect, channel.ConnectOptions{PairingPhone: strings.TrimSpace(req.PairingPhone)})
	if err != nil {
		h.logger.Warn("create channel failed", slog.String("type", channelType.String()), slog.Any("error", err))
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *ChannelHandler) ListChannels(c echo.Context) error {
	items, err := h.store.ListChannels(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (h *ChannelHandler) GetChannel(c echo.Context) error {
	ch, err := h.store.GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

func (h *ChannelHandler) UpdateChannel(c echo.Context) error {
	var req UpdateChannelRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.IsActive == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_active is required")
	}
	updated, err := h.lifecycle.SetActive(c.Request().Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// DeleteChannel removes the channel. A partial purge still deletes the
// record and is reported with 200 and a warning instead of 204.
func (h *ChannelHandler) DeleteChannel(c echo.Context) error {
	channelID := c.Param("id")
	err := h.lifecycle.DeleteChannel(c.Request().Context(), channelID)
	if errors.Is(err, channel.ErrPurgeIncomplete) {
		h.logger.Warn("channel deleted with leftovers", slog.String("channel_id", channelID), slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]any{"deleted": true, "warning": err.Error()})
	}
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ChannelHandler) Connect(c echo.Context) error {
	var req ConnectRequest
	if c.Request().ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()
	channelID := c.Param("id")
	if err := h.manager.Connect(ctx, channelID, channel.ConnectOptions{PairingPhone: strings.TrimSpace(req.PairingPhone)}); err != nil {
		return httpError(err)
	}
	return h.respondStatus(c, http.StatusAccepted, channelID)
}

func (h *ChannelHandler) Disconnect(c echo.Context) error {
	channelID := c.Param("id")
	if err := h.manager.Disconnect(c.Request().Context(), channelID); err != nil {
		return httpError(err)
	}
	return h.respondStatus(c, http.StatusOK, channelID)
}

func (h *ChannelHandler) Status(c echo.Context) error {
	return h.respondStatus(c, http.StatusOK, c.Param("id"))
}

func (h *ChannelHandler) respondStatus(c echo.Context, code int, channelID string) error {
	status, err := h.manager.Status(c.Request().Context(), channelID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(code, status)
}

// RequestPairingCode asks the network for a phone pairing code. When the
// session is not yet up the code arrives later as channel.pairing-ready and
// the call answers 202.
func (h *ChannelHandler) RequestPairingCode(c echo.Context) error {
	var req PairingCodeRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	phone := strings.TrimPrefix(strings.TrimSpace(req.PhoneNumber), "+")
	if phone == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone_number is required")
	}
	channelID := c.Param("id")
	code, err := h.manager.RequestPairingCode(c.Request().Context(), channelID, phone)
	if err != nil {
		return httpError(err)
	}
	if code == "" {
		return c.JSON(http.StatusAccepted, PairingResponse{ChannelID: channelID, Status: channel.StatusPairingCodeReady})
	}
	return c.JSON(http.StatusOK, PairingResponse{ChannelID: channelID, Status: channel.StatusPairingCodeReady, PairingCode: code})
}

func (h *ChannelHandler) RefreshPairing(c echo.Context) error {
	var req ConnectRequest
	if c.Request().ContentLength > 0 {
		if err := bindJSON(c, &req); err != nil {
			return err
		}
	}
	channelID := c.Param("id")
	if err := h.manager.RefreshPairing(c.Request().Context(), channelID, channel.ConnectOptions{PairingPhone: strings.TrimSpace(req.PairingPhone)}); err != nil {
		return httpError(err)
	}
	return h.respondStatus(c, http.StatusAccepted, channelID)
}

// GetPairing returns the last QR code or pairing code stored for the channel.
func (h *ChannelHandler) GetPairing(c echo.Context) error {
	ch, err := h.store.GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	session := ch.Config.Session
	if session == nil {
		return httpError(channel.ErrNotConnectionBacked)
	}
	if session.QRCode == "" && session.PairingCode == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no pairing artifact available")
	}
	return c.JSON(http.StatusOK, PairingResponse{
		ChannelID:   ch.ID,
		Status:      ch.Status,
		QRCode:      session.QRCode,
		PairingCode: session.PairingCode,
	})
}
