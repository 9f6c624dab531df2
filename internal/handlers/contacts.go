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

type directory interface {
	CheckAddress(ctx context.Context, channelID, address string) (bool, error)
	ResolveHiddenID(ctx context.Context, channelID, hiddenID string) (string, error)
	HiddenIDFor(ctx context.Context, channelID, address string) (string, error)
	GroupMetadata(ctx context.Context, channelID, groupID string) (channel.GroupMetadata, error)
	ProfilePhoto(ctx context.Context, channelID, address string) (providers.Profile, error)
	ProfileStatus(ctx context.Context, channelID, address string) (providers.Profile, error)
}

// ContactHandler exposes address lookups of session channels.
type ContactHandler struct {
	logger    *slog.Logger
	directory directory
}

func NewContactHandler(log *slog.Logger, service *providers.Service) *ContactHandler {
	return &ContactHandler{
		logger:    log.With(slog.String("handler", "contact")),
		directory: service,
	}
}

func (h *ContactHandler) Register(e *echo.Echo) {
	group := e.Group("/channels/:id")
	group.GET("/contacts/:address/exists", h.CheckAddress)
	group.GET("/contacts/:address/hidden-id", h.HiddenID)
	group.GET("/contacts/:address/photo", h.ProfilePhoto)
	group.GET("/contacts/:address/status", h.ProfileStatus)
	group.GET("/hidden-ids/:hidden_id", h.ResolveHiddenID)
	group.GET("/groups/:group_id", h.GroupMetadata)
}

type AddressCheckResponse struct {
	Address string `json:"address"`
	Exists  bool   `json:"exists"`
}

type HiddenIDResponse struct {
	Address  string `json:"address"`
	HiddenID string `json:"hidden_id"`
}

func (h *ContactHandler) CheckAddress(c echo.Context) error {
	address, err := pathValue(c, "address")
	if err != nil {
		return err
	}
	exists, err := h.directory.CheckAddress(c.Request().Context(), c.Param("id"), address)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, AddressCheckResponse{Address: address, Exists: exists})
}

func (h *ContactHandler) HiddenID(c echo.Context) error {
	address, err := pathValue(c, "address")
	if err != nil {
		return err
	}
	hidden, err := h.directory.HiddenIDFor(c.Request().Context(), c.Param("id"), address)
	if err != nil {
		return httpError(err)
	}
	if hidden == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no hidden id known for address")
	}
	return c.JSON(http.StatusOK, HiddenIDResponse{Address: address, HiddenID: hidden})
}

func (h *ContactHandler) ResolveHiddenID(c echo.Context) error {
	hidden, err := pathValue(c, "hidden_id")
	if err != nil {
		return err
	}
	address, err := h.directory.ResolveHiddenID(c.Request().Context(), c.Param("id"), hidden)
	if err != nil {
		return httpError(err)
	}
	if address == "" {
		return echo.NewHTTPError(http.StatusNotFound, "hidden id could not be resolved")
	}
	return c.JSON(http.StatusOK, HiddenIDResponse{Address: address, HiddenID: hidden})
}

func (h *ContactHandler) ProfilePhoto(c echo.Context) error {
	address, err := pathValue(c, "address")
	if err != nil {
		return err
	}
	profile, err := h.directory.ProfilePhoto(c.Request().Context(), c.Param("id"), address)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *ContactHandler) ProfileStatus(c echo.Context) error {
	address, err := pathValue(c, "address")
	if err != nil {
		return err
	}
	profile, err := h.directory.ProfileStatus(c.Request().Context(), c.Param("id"), address)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *ContactHandler) GroupMetadata(c echo.Context) error {
	groupID, err := pathValue(c, "group_id")
	if err != nil {
		return err
	}
	meta, err := h.directory.GroupMetadata(c.Request().Context(), c.Param("id"), groupID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, meta)
}

func pathValue(c echo.Context, name string) (string, error) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return value, nil
}
