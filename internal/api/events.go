package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/internal/services"
)

type ingestRequest struct {
	OrgID   string         `json:"org_id"`
	Source  string         `json:"source"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// IngestEvent receives an external CRM/stock/webhook event. Callers either
// present the shared events token or authenticate; the organization comes
// from the payload's org_id, then the body's, with the caller identity as
// fallback. Responds 202 when the event created runs or was handled by a
// built-in, 200 otherwise.
// (POST /api/flows/events)
func (s *Server) IngestEvent(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}

	org := payloadOrgID(req.Payload)
	if org == "" {
		org = req.OrgID
	}
	if org == "" {
		org = orgID(c)
	}
	if org == "" {
		return failJSON(c, http.StatusBadRequest, "org_id_required")
	}

	result, err := s.events.Ingest(c.Request().Context(), org, services.Event{
		Source:  req.Source,
		Event:   req.Event,
		Payload: req.Payload,
	})
	if err != nil {
		var everr *services.EventError
		if errors.As(err, &everr) {
			return failJSON(c, http.StatusBadRequest, everr.Error())
		}
		return s.storeError(c, err)
	}

	status := http.StatusOK
	if result.Handled || len(result.CreatedRuns) > 0 {
		status = http.StatusAccepted
	}
	return okJSON(c, status, result)
}

// payloadOrgID reads an org_id carried inside the event payload. External
// senders put it there rather than at the top level, and some send it as a
// number.
func payloadOrgID(payload map[string]any) string {
	switch v := payload["org_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
