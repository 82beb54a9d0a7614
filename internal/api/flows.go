package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/pkg/models"
)

type createFlowRequest struct {
	Name    string         `json:"name"`
	Trigger string         `json:"trigger"`
	Active  *bool          `json:"active"`
	Meta    map[string]any `json:"meta"`
}

// ListFlows returns the organization's flows.
// (GET /api/flows)
func (s *Server) ListFlows(c echo.Context) error {
	flows, err := s.store.ListFlows(c.Request().Context(), orgID(c))
	if err != nil {
		return s.storeError(c, err)
	}
	if flows == nil {
		flows = []*models.Flow{}
	}
	return okJSON(c, http.StatusOK, flows)
}

// CreateFlow creates a flow. Trigger is required; active defaults to true.
// (POST /api/flows)
func (s *Server) CreateFlow(c echo.Context) error {
	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Trigger == "" {
		return failJSON(c, http.StatusBadRequest, "trigger_required")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	ident := orgID(c)
	flow := &models.Flow{
		OrganizationID: ident,
		Name:           req.Name,
		Trigger:        req.Trigger,
		Active:         active,
		Meta:           req.Meta,
	}
	if err := s.store.CreateFlow(c.Request().Context(), flow); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusCreated, flow)
}

// GetFlow returns one flow.
// (GET /api/flows/:id)
func (s *Server) GetFlow(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	flow, err := s.store.GetFlow(c.Request().Context(), orgID(c), id)
	if err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, flow)
}

// UpdateFlow applies a partial update.
// (PUT /api/flows/:id)
func (s *Server) UpdateFlow(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	var upd models.FlowUpdate
	if err := c.Bind(&upd); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if upd.Empty() {
		return failJSON(c, http.StatusBadRequest, "empty_update")
	}
	if upd.Trigger != nil && *upd.Trigger == "" {
		return failJSON(c, http.StatusBadRequest, "trigger_required")
	}

	flow, err := s.store.UpdateFlow(c.Request().Context(), orgID(c), id, upd)
	if err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, flow)
}

// DeleteFlow removes a flow. Its steps go with it; past runs keep a null
// flow reference.
// (DELETE /api/flows/:id)
func (s *Server) DeleteFlow(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	if err := s.store.DeleteFlow(c.Request().Context(), orgID(c), id); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, map[string]any{"deleted": id})
}
