package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/providers"
)

// maxBulkItems caps a single bulk request.
const maxBulkItems = 1000

type messageSender interface {
	Send(ctx context.Context, provider, channelID, recipient string, msg channel.OutboundMessage, opts providers.Options) (providers.Result, error)
	SendBulk(ctx context.Context, items []providers.BulkItem) providers.BulkResult
}

type MessageHandler struct {
	logger   *slog.Logger
	sender   messageSender
	channels channelReader
}

func NewMessageHandler(log *slog.Logger, service *providers.Service, store *channel.PgStore) *MessageHandler {
	return &MessageHandler{
		logger:   log.With(slog.String("handler", "message")),
		sender:   service,
		channels: store,
	}
}

func (h *MessageHandler) Register(e *echo.Echo) {
	e.POST("/messages", h.Send)
	e.POST("/messages/bulk", h.SendBulk)
	e.POST("/channels/:id/messages", h.SendToChannel)
}

type SendRequest struct {
	Provider  string                  `json:"provider"`
	ChannelID string                  `json:"channelId"`
	Recipient string                  `json:"recipient"`
	Message   channel.OutboundMessage `json:"message"`
	Options   providers.Options       `json:"options"`
}

type BulkSendRequest struct {
	Messages []providers.BulkItem `json:"messages"`
}

// Send godoc
// @Summary Send message
// @Description Send one message through the provider of a channel
// @Tags messages
// @Param payload body SendRequest true "Message"
// @Success 200 {object} providers.Result
// @Failure 400 {object} providers.Result
// @Failure 404 {object} providers.Result
// @Failure 502 {object} providers.Result
// @Router /messages [post]
func (h *MessageHandler) Send(c echo.Context) error {
	var req SendRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	return h.send(c, req)
}

// SendToChannel sends through the path channel, defaulting the provider to
// the channel's own type.
func (h *MessageHandler) SendToChannel(c echo.Context) error {
	var req SendRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	req.ChannelID = c.Param("id")
	if strings.TrimSpace(req.Provider) == "" {
		ch, err := h.channels.GetChannel(c.Request().Context(), req.ChannelID)
		if err != nil {
			return httpError(err)
		}
		req.Provider = ch.Type.String()
	}
	return h.send(c, req)
}

func (h *MessageHandler) send(c echo.Context, req SendRequest) error {
	if strings.TrimSpace(req.ChannelID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channelId is required")
	}
	res, err := h.sender.Send(c.Request().Context(), req.Provider, req.ChannelID, req.Recipient, req.Message, req.Options)
	if err != nil {
		return c.JSON(statusFor(err), res)
	}
	if !res.Success {
		h.logger.Warn("provider send failed", slog.String("channel_id", req.ChannelID), slog.String("provider", res.Provider))
		return c.JSON(http.StatusBadGateway, res)
	}
	return c.JSON(http.StatusOK, res)
}

// SendBulk always answers 200; per-item outcomes are in the results.
func (h *MessageHandler) SendBulk(c echo.Context) error {
	var req BulkSendRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if len(req.Messages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "messages is required")
	}
	if len(req.Messages) > maxBulkItems {
		return echo.NewHTTPError(http.StatusBadRequest, "too many messages")
	}
	out := h.sender.SendBulk(c.Request().Context(), req.Messages)
	h.logger.Info("bulk send finished", slog.Int("total", out.Total), slog.Int("failed", out.Failed))
	return c.JSON(http.StatusOK, out)
}
