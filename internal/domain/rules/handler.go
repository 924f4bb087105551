package rules

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carepath/ruleengine/pkg/pagination"
)

// Handler exposes the evaluate entry point, the author-facing dry-run
// endpoint and the audit-trail listing. Rule CRUD lives elsewhere.
type Handler struct {
	engine     *Engine
	executions ExecutionRepository
}

func NewHandler(engine *Engine, executions ExecutionRepository) *Handler {
	return &Handler{engine: engine, executions: executions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/rule-engine/evaluate", h.evaluate)
	api.POST("/rule-engine/test", h.testRule)
	api.GET("/rule-executions", h.listExecutions)
}

type evaluateRequest struct {
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	OrgID     uuid.UUID              `json:"org_id"`
	UserID    *uuid.UUID             `json:"user_id,omitempty"`
	PatientID *uuid.UUID             `json:"patient_id,omitempty"`
}

func (h *Handler) evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrgID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id is required")
	}
	if !ValidTriggerEvent(req.EventType) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown event_type")
	}
	if req.EventData == nil {
		req.EventData = map[string]interface{}{}
	}

	results, err := h.engine.EvaluateRules(c.Request().Context(), req.EventType, req.EventData, req.OrgID, req.UserID, req.PatientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

type testRuleRequest struct {
	Rule      Rule                   `json:"rule"`
	EventData map[string]interface{} `json:"event_data"`
	OrgID     uuid.UUID              `json:"org_id"`
	PatientID *uuid.UUID             `json:"patient_id,omitempty"`
}

func (h *Handler) testRule(c echo.Context) error {
	var req testRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.OrgID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "org_id is required")
	}
	if req.EventData == nil {
		req.EventData = map[string]interface{}{}
	}

	result := h.engine.TestRule(c.Request().Context(), &req.Rule, req.EventData, req.OrgID, req.PatientID)
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) listExecutions(c echo.Context) error {
	var filter ExecutionFilter
	if raw := c.QueryParam("rule_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid rule_id")
		}
		filter.RuleID = id
	}
	if raw := c.QueryParam("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = id
	}

	page := pagination.FromContext(c)
	items, total, err := h.executions.List(c.Request().Context(), filter, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}
