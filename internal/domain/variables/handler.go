package variables

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	resolver *Resolver
}

func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/rule-variables/test", h.TestVariable)
}

type testVariableRequest struct {
	Variable  Variable  `json:"variable"`
	PatientID uuid.UUID `json:"patient_id"`
	OrgID     uuid.UUID `json:"org_id"`
}

// TestVariable lets rule authors run a variable definition (saved or not)
// against a patient and see the computed value without caching it.
func (h *Handler) TestVariable(c echo.Context) error {
	var req testVariableRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrgID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id is required")
	}
	if req.Variable.ComputationType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "variable.computation_type is required")
	}
	result := h.resolver.TestVariable(c.Request().Context(), &req.Variable, req.PatientID, req.OrgID)
	return c.JSON(http.StatusOK, result)
}
