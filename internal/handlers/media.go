package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
)

type mediaOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// MediaHandler serves assets ingested from inbound messages.
type MediaHandler struct {
	logger *slog.Logger
	media  mediaOpener
}

func NewMediaHandler(log *slog.Logger, service *media.Service) *MediaHandler {
	return &MediaHandler{
		logger: log.With(slog.String("handler", "media")),
		media:  service,
	}
}

func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/media/*", h.Serve)
}

func (h *MediaHandler) Serve(c echo.Context) error {
	key := strings.TrimPrefix(c.Param("*"), "/")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "media key is required")
	}
	reader, mime, err := h.media.Open(c.Request().Context(), key)
	if err != nil {
		return httpError(err)
	}
	defer func() {
		_ = reader.Close()
	}()
	c.Response().Header().Set("Cache-Control", "private, max-age=86400")
	return c.Stream(http.StatusOK, mime, reader)
}
