package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/pkg/models"
)

type createStepRequest struct {
	Position int            `json:"position"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config"`
}

// ListSteps returns a flow's steps in execution order.
// (GET /api/flows/:id/steps)
func (s *Server) ListSteps(c echo.Context) error {
	flowID, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	ctx := c.Request().Context()
	org := orgID(c)
	if _, err := s.store.GetFlow(ctx, org, flowID); err != nil {
		return s.storeError(c, err)
	}
	steps, err := s.store.ListSteps(ctx, org, flowID)
	if err != nil {
		return s.storeError(c, err)
	}
	if steps == nil {
		steps = []*models.FlowStep{}
	}
	return okJSON(c, http.StatusOK, steps)
}

// CreateStep appends a step to a flow. The step type is not validated
// against the supported set here: unknown types surface as run failures, so
// a flow can be authored before its channel ships.
// (POST /api/flows/:id/steps)
func (s *Server) CreateStep(c echo.Context) error {
	flowID, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	var req createStepRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Type == "" {
		return failJSON(c, http.StatusBadRequest, "type_required")
	}
	if req.Position <= 0 {
		return failJSON(c, http.StatusBadRequest, "position_required")
	}

	step := &models.FlowStep{
		FlowID:         flowID,
		OrganizationID: orgID(c),
		Position:       req.Position,
		Type:           req.Type,
		Config:         req.Config,
	}
	if err := s.store.CreateStep(c.Request().Context(), step); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusCreated, step)
}

// DeleteStep removes one step from a flow.
// (DELETE /api/flows/:id/steps/:stepID)
func (s *Server) DeleteStep(c echo.Context) error {
	flowID, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	stepID, ok := pathID(c, "stepID")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	if err := s.store.DeleteStep(c.Request().Context(), orgID(c), flowID, stepID); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, map[string]any{"deleted": stepID})
}
