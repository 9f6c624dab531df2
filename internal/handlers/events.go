package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type eventLister interface {
	List(ctx context.Context, channelID, messageID string, limit int) ([]eventlog.Entry, error)
}

type EventHandler struct {
	logger *slog.Logger
	events eventLister
}

func NewEventHandler(log *slog.Logger, store *eventlog.Store) *EventHandler {
	return &EventHandler{
		logger: log.With(slog.String("handler", "event")),
		events: store,
	}
}

func (h *EventHandler) Register(e *echo.Echo) {
	e.GET("/channels/:id/events", h.List)
}

// List returns logged inbound events of a channel, newest first. The
// message_id query narrows the result to one message.
func (h *EventHandler) List(c echo.Context) error {
	limit := defaultEventLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxEventLimit)
	}
	items, err := h.events.List(c.Request().Context(), c.Param("id"), strings.TrimSpace(c.QueryParam("message_id")), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
