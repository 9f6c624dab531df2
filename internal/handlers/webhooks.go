package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

type webhookStore interface {
	ListWebhooks(ctx context.Context, channelID string) ([]webhook.Subscription, error)
	AddWebhook(ctx context.Context, channelID string, req webhook.UpsertRequest) (webhook.Subscription, error)
	UpdateWebhook(ctx context.Context, channelID, webhookID string, req webhook.UpsertRequest) (webhook.Subscription, error)
	RemoveWebhook(ctx context.Context, channelID, webhookID string) error
}

type WebhookHandler struct {
	logger *slog.Logger
	store  webhookStore
}

func NewWebhookHandler(log *slog.Logger, store *channel.PgStore) *WebhookHandler {
	return &WebhookHandler{
		logger: log.With(slog.String("handler", "webhook")),
		store:  store,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	group := e.Group("/channels/:id/webhooks")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.PATCH("/:webhook_id", h.Update)
	group.DELETE("/:webhook_id", h.Delete)
}

func (h *WebhookHandler) List(c echo.Context) error {
	items, err := h.store.ListWebhooks(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Create godoc
// @Summary Add webhook
// @Tags webhooks
// @Param id path string true "Channel ID"
// @Param payload body webhook.UpsertRequest true "Subscription"
// @Success 201 {object} webhook.Subscription
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /channels/{id}/webhooks [post]
func (h *WebhookHandler) Create(c echo.Context) error {
	var req webhook.UpsertRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if _, err := req.Normalize(true); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.store.AddWebhook(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	h.logger.Info("webhook added", slog.String("channel_id", sub.ChannelID), slog.String("webhook_id", sub.ID))
	return c.JSON(http.StatusCreated, sub)
}

func (h *WebhookHandler) Update(c echo.Context) error {
	var req webhook.UpsertRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if _, err := req.Normalize(false); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.store.UpdateWebhook(c.Request().Context(), c.Param("id"), c.Param("webhook_id"), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(c echo.Context) error {
	if err := h.store.RemoveWebhook(c.Request().Context(), c.Param("id"), c.Param("webhook_id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
