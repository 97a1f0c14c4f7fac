package prediction

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes duration prediction over HTTP.
type Handler struct {
	predictor *Predictor
}

// NewHandler creates a prediction handler.
func NewHandler(predictor *Predictor) *Handler {
	return &Handler{predictor: predictor}
}

// RegisterRoutes mounts prediction routes on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/predictions", h.Predict)
}

type predictRequest struct {
	ProcedureCode   string         `json:"procedure_code"`
	SurgeonID       uuid.UUID      `json:"surgeon_id"`
	Factors         PatientFactors `json:"factors"`
	FallbackMinutes int            `json:"fallback_minutes"`
}

func (h *Handler) Predict(c echo.Context) error {
	req := &predictRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ProcedureCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "procedure_code is required")
	}

	pred, err := h.predictor.Predict(c.Request().Context(), req.ProcedureCode,
		req.SurgeonID, req.Factors, req.FallbackMinutes)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pred)
}
