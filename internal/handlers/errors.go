package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/eventlog"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/providers"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// ErrorResponse is the body echo renders for an HTTPError.
type ErrorResponse struct {
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, channel.ErrChannelNotFound),
		errors.Is(err, webhook.ErrSubscriptionNotFound),
		errors.Is(err, media.ErrAssetNotFound),
		errors.Is(err, eventlog.ErrEntryNotFound),
		errors.Is(err, channel.ErrRemoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrChannelNotConnected),
		errors.Is(err, channel.ErrChannelDisabled),
		errors.Is(err, channel.ErrNotConnectionBacked):
		return http.StatusConflict
	case errors.Is(err, providers.ErrUnknownProvider),
		errors.Is(err, providers.ErrProviderMismatch),
		errors.Is(err, channel.ErrInvalidMessage),
		errors.Is(err, channel.ErrInvalidConfig),
		errors.Is(err, channel.ErrUnsupportedChannelType),
		errors.Is(err, webhook.ErrUnknownEventKind),
		errors.Is(err, media.ErrPathTraversal):
		return http.StatusBadRequest
	case errors.Is(err, providers.ErrDestinationNotRegistered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, media.ErrAssetTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, channel.ErrConnectFailed),
		errors.Is(err, channel.ErrEnableChannelFailed):
		return http.StatusBadGateway
	case errors.Is(err, channel.ErrManagerClosed),
		errors.Is(err, media.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// httpError maps a domain error to an echo error with a matching status.
func httpError(err error) *echo.HTTPError {
	return echo.NewHTTPError(statusFor(err), err.Error())
}

func bindJSON(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}
