package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/internal/services"
	"vex-flows/backend/pkg/models"
)

type createTriggerRequest struct {
	FlowID   int64          `json:"flow_id"`
	Type     string         `json:"type"`
	Schedule *string        `json:"schedule"`
	Active   *bool          `json:"active"`
	Config   map[string]any `json:"config"`
}

type emitRequest struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// ListTriggers returns the organization's trigger records, optionally scoped
// to one flow via the flow_id query param.
// (GET /api/triggers)
func (s *Server) ListTriggers(c echo.Context) error {
	var flowID *int64
	var raw int64
	if err := echo.QueryParamsBinder(c).Int64("flow_id", &raw).BindError(); err == nil && raw > 0 {
		flowID = &raw
	}

	triggers, err := s.store.ListTriggers(c.Request().Context(), orgID(c), flowID)
	if err != nil {
		return s.storeError(c, err)
	}
	if triggers == nil {
		triggers = []*models.Trigger{}
	}
	return okJSON(c, http.StatusOK, triggers)
}

// CreateTrigger attaches a trigger record to a flow.
// (POST /api/triggers)
func (s *Server) CreateTrigger(c echo.Context) error {
	var req createTriggerRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Type == "" {
		return failJSON(c, http.StatusBadRequest, "type_required")
	}
	if req.FlowID <= 0 {
		return failJSON(c, http.StatusBadRequest, "flow_id_required")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	trigger := &models.Trigger{
		OrganizationID: orgID(c),
		FlowID:         req.FlowID,
		Type:           req.Type,
		Schedule:       req.Schedule,
		Active:         active,
		Config:         req.Config,
	}
	if err := s.store.CreateTrigger(c.Request().Context(), trigger); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusCreated, trigger)
}

// DeleteTrigger removes a trigger record.
// (DELETE /api/triggers/:id)
func (s *Server) DeleteTrigger(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	if err := s.store.DeleteTrigger(c.Request().Context(), orgID(c), id); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, map[string]any{"deleted": id})
}

// EmitTrigger fires a manual event through generic flow matching. Built-in
// handlers are not involved; only active flows listening on the event key
// get a queued run. Responds 202 when runs were created, 200 otherwise.
// (POST /api/triggers/emit)
func (s *Server) EmitTrigger(c echo.Context) error {
	var req emitRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}

	result, err := s.events.Emit(c.Request().Context(), orgID(c), req.Event, req.Payload)
	if err != nil {
		var everr *services.EventError
		if errors.As(err, &everr) {
			return failJSON(c, http.StatusBadRequest, everr.Error())
		}
		return s.storeError(c, err)
	}

	status := http.StatusOK
	if len(result.CreatedRuns) > 0 {
		status = http.StatusAccepted
	}
	return okJSON(c, status, result)
}
