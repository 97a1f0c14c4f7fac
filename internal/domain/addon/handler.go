package addon

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orsched/orsched/internal/domain/cases"
	"github.com/orsched/orsched/internal/platform/auth"
)

// Handler exposes add-on admission over HTTP.
type Handler struct {
	controller *Controller
	cases      *cases.Service
}

// NewHandler creates an add-on handler.
func NewHandler(controller *Controller, caseSvc *cases.Service) *Handler {
	return &Handler{controller: controller, cases: caseSvc}
}

// RegisterRoutes mounts add-on routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/addons", h.RequestAddOn)
	g.GET("/addons/bumps", h.ListPendingBumps)
	g.GET("/addons/bumps/:id", h.GetBump)
	g.POST("/addons/bumps/:id/approve", h.ApproveBump)
	g.POST("/addons/bumps/:id/reject", h.RejectBump)
}

func mapError(err error) error {
	var denied *DeniedError
	switch {
	case errors.As(err, &denied):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"reason": denied.Reason,
			"detail": denied.Detail,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, cases.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, cases.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type addOnRequest struct {
	// Either reference an existing case...
	CaseID *uuid.UUID `json:"case_id,omitempty"`
	// ...or describe one inline.
	Case *cases.SurgicalCase `json:"case,omitempty"`
	Date string              `json:"date,omitempty"`
}

func (h *Handler) RequestAddOn(c echo.Context) error {
	req := &addOnRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	date := time.Now()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		}
		date = parsed
	}
	actor := actorFrom(c)

	var caseID uuid.UUID
	switch {
	case req.CaseID != nil:
		caseID = *req.CaseID
	case req.Case != nil:
		if err := h.cases.CreateCase(c.Request().Context(), req.Case); err != nil {
			return mapError(err)
		}
		caseID = req.Case.ID
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "case_id or case is required")
	}

	result, err := h.controller.Admit(c.Request().Context(), caseID, date, actor)
	if err != nil {
		return mapError(err)
	}

	status := http.StatusOK
	if result.Bump != nil && result.Bump.Status == BumpPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, result)
}

func (h *Handler) ListPendingBumps(c echo.Context) error {
	records, err := h.controller.PendingBumps(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, records)
}

func (h *Handler) GetBump(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bump ID")
	}
	record, err := h.controller.GetBump(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, record)
}

func (h *Handler) ApproveBump(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bump ID")
	}
	result, err := h.controller.Approve(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectBump(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bump ID")
	}
	req := &rejectRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	record, err := h.controller.Reject(c.Request().Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, record)
}

func actorFrom(c echo.Context) string {
	if claims := auth.ClaimsFromContext(c); claims != nil {
		return claims.Subject
	}
	return "system"
}
