package cases

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/platform/auth"
	"github.com/orsched/orsched/pkg/pagination"
)

// Handler exposes surgical case operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a case handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts case routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/cases", h.CreateCase)
	g.GET("/cases", h.ListCases)
	g.GET("/cases/:id", h.GetCase)
	g.GET("/cases/:id/history", h.GetHistory)
	g.POST("/cases/:id/status", h.RecordStatusChange)
}

func mapError(err error) error {
	var invalid *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreateCase(c echo.Context) error {
	sc := &SurgicalCase{}
	if err := c.Bind(sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.service.CreateCase(c.Request().Context(), sc); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, sc)
}

func (h *Handler) ListCases(c echo.Context) error {
	params := pagination.FromContext(c)
	filter := ListFilter{
		Status: Status(c.QueryParam("status")),
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if raw := c.QueryParam("surgeon_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid surgeon_id")
		}
		filter.SurgeonID = id
	}
	if raw := c.QueryParam("room_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid room_id")
		}
		filter.RoomID = id
	}
	if raw := c.QueryParam("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		filter.Date = &date
	}

	list, total, err := h.service.ListCases(c.Request().Context(), filter)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, params))
}

func (h *Handler) GetCase(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	sc, err := h.service.GetCase(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sc)
}

func (h *Handler) GetHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	events, err := h.service.GetHistory(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, events)
}

type statusChangeRequest struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
	// OccurredAt is the clinical event time; omitted means now.
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (h *Handler) RecordStatusChange(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	req := &statusChangeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "status is required")
	}

	actor := "system"
	if claims := auth.ClaimsFromContext(c); claims != nil {
		actor = claims.Subject
	}

	at := time.Time{}
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}
	sc, err := h.service.RecordStatusChangeAt(c.Request().Context(), id, req.Status, req.Reason, actor, at)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sc)
}
