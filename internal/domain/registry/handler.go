package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/pkg/pagination"
)

// Handler exposes the resource registry over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a registry handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts registry routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/rooms", h.CreateRoom)
	g.GET("/rooms", h.ListRooms)
	g.GET("/rooms/:id", h.GetRoom)
	g.PUT("/rooms/:id", h.UpdateRoom)
	g.DELETE("/rooms/:id", h.DeleteRoom)
	g.GET("/rooms/:id/availability", h.GetRoomAvailability)
	g.GET("/rooms/:id/blocks", h.ListRoomBlocks)

	g.POST("/blocks", h.CreateBlock)
	g.GET("/blocks/:id", h.GetBlock)
	g.PUT("/blocks/:id", h.UpdateBlock)
	g.DELETE("/blocks/:id", h.DeleteBlock)

	g.POST("/staff", h.CreateStaff)
	g.GET("/staff", h.ListStaff)
	g.GET("/staff/:id", h.GetStaff)
	g.PUT("/staff/:id", h.UpdateStaff)
	g.DELETE("/staff/:id", h.DeleteStaff)

	g.POST("/equipment", h.CreateEquipment)
	g.GET("/equipment", h.ListEquipment)
	g.GET("/equipment/:id", h.GetEquipment)
	g.PUT("/equipment/:id", h.UpdateEquipment)
	g.DELETE("/equipment/:id", h.DeleteEquipment)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBlockOverlap):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateRoom(c echo.Context) error {
	room := &Room{}
	if err := c.Bind(room); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.CreateRoom(c.Request().Context(), room); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, room)
}

func (h *Handler) ListRooms(c echo.Context) error {
	params := pagination.FromContext(c)
	rooms, total, err := h.service.ListRooms(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rooms, total, params))
}

func (h *Handler) GetRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	room, err := h.service.GetRoom(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) UpdateRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	room := &Room{}
	if err := c.Bind(room); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	room.ID = id
	if err := h.service.UpdateRoom(c.Request().Context(), room); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, room)
}

func (h *Handler) DeleteRoom(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	if err := h.service.DeleteRoom(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetRoomAvailability(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	date, err := parseDateParam(c, "date")
	if err != nil {
		return err
	}
	availability, err := h.service.GetRoomAvailability(c.Request().Context(), id, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, availability)
}

func (h *Handler) ListRoomBlocks(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid room ID")
	}
	blocks, err := h.service.ListBlocksByRoom(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, blocks)
}

func (h *Handler) CreateBlock(c echo.Context) error {
	block := &Block{}
	if err := c.Bind(block); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.CreateBlock(c.Request().Context(), block); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, block)
}

func (h *Handler) GetBlock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid block ID")
	}
	block, err := h.service.GetBlock(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, block)
}

func (h *Handler) UpdateBlock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid block ID")
	}
	block := &Block{}
	if err := c.Bind(block); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	block.ID = id
	if err := h.service.UpdateBlock(c.Request().Context(), block); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, block)
}

func (h *Handler) DeleteBlock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid block ID")
	}
	if err := h.service.DeleteBlock(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateStaff(c echo.Context) error {
	staff := &Staff{}
	if err := c.Bind(staff); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.CreateStaff(c.Request().Context(), staff); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, staff)
}

func (h *Handler) ListStaff(c echo.Context) error {
	params := pagination.FromContext(c)
	role := StaffRole(c.QueryParam("role"))
	staff, total, err := h.service.ListStaff(c.Request().Context(), role, params.Limit, params.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(staff, total, params))
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid staff ID")
	}
	staff, err := h.service.GetStaff(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, staff)
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid staff ID")
	}
	staff := &Staff{}
	if err := c.Bind(staff); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	staff.ID = id
	if err := h.service.UpdateStaff(c.Request().Context(), staff); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, staff)
}

func (h *Handler) DeleteStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid staff ID")
	}
	if err := h.service.DeleteStaff(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateEquipment(c echo.Context) error {
	eq := &Equipment{}
	if err := c.Bind(eq); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.CreateEquipment(c.Request().Context(), eq); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, eq)
}

func (h *Handler) ListEquipment(c echo.Context) error {
	params := pagination.FromContext(c)
	equipment, total, err := h.service.ListEquipment(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(equipment, total, params))
}

func (h *Handler) GetEquipment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid equipment ID")
	}
	eq, err := h.service.GetEquipment(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, eq)
}

func (h *Handler) UpdateEquipment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid equipment ID")
	}
	eq := &Equipment{}
	if err := c.Bind(eq); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	eq.ID = id
	if err := h.service.UpdateEquipment(c.Request().Context(), eq); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, eq)
}

func (h *Handler) DeleteEquipment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid equipment ID")
	}
	if err := h.service.DeleteEquipment(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// parseDateParam reads a YYYY-MM-DD query parameter, defaulting to today.
func parseDateParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	return date, nil
}
