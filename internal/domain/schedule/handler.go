package schedule

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/domain/registry"
	"github.com/orsched/orsched/internal/platform/auth"
)

// Handler exposes scheduling operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a scheduling handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts scheduling routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/cases/:id/schedule", h.ScheduleCase)
	g.POST("/cases/:id/confirm", h.ConfirmHold)
	g.POST("/cases/:id/release", h.ReleasePlacement)
	g.POST("/conflicts/check", h.CheckConflicts)
	g.GET("/availability", h.GetSurgeonAvailability)
}

type conflictResponse struct {
	Conflicts   []Conflict               `json:"conflicts"`
	Suggestions []OptimizationSuggestion `json:"suggestions,omitempty"`
}

func mapError(err error) error {
	var conflictErr *ConflictError
	var capacityErr *CapacityError
	var invalid *cases.InvalidTransitionError
	switch {
	case errors.As(err, &conflictErr):
		return echo.NewHTTPError(http.StatusConflict, conflictResponse{
			Conflicts:   conflictErr.Conflicts,
			Suggestions: conflictErr.Suggestions,
		})
	case errors.As(err, &capacityErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrConcurrency):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNoCapacity):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, cases.ErrNotFound), errors.Is(err, registry.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, cases.ErrValidation), errors.Is(err, registry.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type scheduleCaseRequest struct {
	RoomID *uuid.UUID `json:"room_id,omitempty"`
	Start  *time.Time `json:"start,omitempty"`
	Date   string     `json:"date,omitempty"`
	Hold   bool       `json:"hold"`
}

func (h *Handler) ScheduleCase(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	body := &scheduleCaseRequest{}
	if err := c.Bind(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req := ScheduleRequest{RoomID: body.RoomID, Start: body.Start, Hold: body.Hold, Actor: actorFrom(c)}
	if body.Date != "" {
		date, err := time.Parse("2006-01-02", body.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		req.Date = date
	} else if body.Start != nil {
		req.Date = *body.Start
	}
	if req.RoomID == nil && req.Date.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "either room_id+start or date is required")
	}

	result, err := h.service.ScheduleCase(c.Request().Context(), caseID, req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ConfirmHold(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	if err := h.service.ConfirmHold(c.Request().Context(), caseID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ReleasePlacement(c echo.Context) error {
	caseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid case ID")
	}
	if err := h.service.ReleasePlacement(c.Request().Context(), caseID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CheckConflicts(c echo.Context) error {
	p := Placement{}
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if p.CaseID == uuid.Nil || p.RoomID == uuid.Nil || p.Start.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "case_id, room_id and start are required")
	}
	conflicts, err := h.service.CheckPlacement(c.Request().Context(), p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, conflictResponse{Conflicts: conflicts})
}

func (h *Handler) GetSurgeonAvailability(c echo.Context) error {
	surgeonID, err := uuid.Parse(c.QueryParam("surgeon_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "surgeon_id is required")
	}
	date := time.Now()
	if raw := c.QueryParam("date"); raw != "" {
		date, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
	}
	availability, err := h.service.GetSurgeonAvailability(c.Request().Context(), surgeonID, date)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, availability)
}

func actorFrom(c echo.Context) string {
	if claims := auth.ClaimsFromContext(c); claims != nil {
		return claims.Subject
	}
	return "system"
}
