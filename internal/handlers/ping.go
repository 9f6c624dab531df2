package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/healthcheck"
	channelchecker "github.com/Legimus-AI/notifications-for-fun-sub000/internal/healthcheck/checkers/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/metrics"
)

type PingHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewPingHandler(log *slog.Logger, channels *channelchecker.Checker) *PingHandler {
	return &PingHandler{
		logger:   log.With(slog.String("handler", "ping")),
		checkers: []healthcheck.Checker{channels},
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/health/channels", h.Channels)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Channels reports per-channel connection health. Any failing channel
// turns the response into a 503.
func (h *PingHandler) Channels(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	code := http.StatusOK
	if report.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

// MetricsHandler exposes the prometheus registry.
type MetricsHandler struct {
	path    string
	handler http.Handler
}

func NewMetricsHandler(path string, m *metrics.Metrics) *MetricsHandler {
	if path == "" {
		path = "/metrics"
	}
	return &MetricsHandler{path: path, handler: m.Handler()}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET(h.path, echo.WrapHandler(h.handler))
}
