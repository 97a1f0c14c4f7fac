package utilization

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/domain/registry"
)

// Handler exposes utilization and turnover read models over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a utilization handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts utilization routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/rooms/:id/utilization", h.GetRoomUtilization)
	g.GET("/rooms/:id/turnover", h.GetRoomTurnover)
	g.GET("/rooms/:id/block-utilization", h.GetBlockUtilization)
}

func mapError(err error) error {
	if errors.Is(err, registry.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) GetRoomUtilization(c echo.Context) error {
	roomID, date, err := roomAndDate(c)
	if err != nil {
		return err
	}
	result, err := h.service.GetRoomUtilization(c.Request().Context(), roomID, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetRoomTurnover(c echo.Context) error {
	roomID, date, err := roomAndDate(c)
	if err != nil {
		return err
	}
	result, err := h.service.GetRoomTurnover(c.Request().Context(), roomID, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetBlockUtilization(c echo.Context) error {
	roomID, date, err := roomAndDate(c)
	if err != nil {
		return err
	}
	result, err := h.service.GetBlockUtilization(c.Request().Context(), roomID, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func roomAndDate(c echo.Context) (uuid.UUID, time.Time, error) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	date := time.Now()
	if raw := c.QueryParam("date"); raw != "" {
		date, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return uuid.Nil, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
	}
	return roomID, date, nil
}
