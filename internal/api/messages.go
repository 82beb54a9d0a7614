package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/internal/repository"
	"vex-flows/backend/pkg/models"
)

type createMessageRequest struct {
	FlowID    *int64         `json:"flow_id"`
	Channel   string         `json:"channel"`
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Meta      map[string]any `json:"meta"`
}

// CreateMessage records a draft message directly, outside any run. The
// executor writes its own rows; this endpoint exists for callers composing
// messages ahead of a send.
// (POST /api/messages)
func (s *Server) CreateMessage(c echo.Context) error {
	var req createMessageRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Channel == "" {
		return failJSON(c, http.StatusBadRequest, "channel_required")
	}

	msg := &models.Message{
		OrganizationID: orgID(c),
		FlowID:         req.FlowID,
		Channel:        req.Channel,
		Recipient:      req.Recipient,
		Subject:        req.Subject,
		Body:           req.Body,
		Status:         models.MessageStatusDraft,
		Meta:           req.Meta,
	}
	if err := s.store.InsertMessage(c.Request().Context(), msg); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusCreated, msg)
}

// ListMessages returns the organization's notification audit log, newest
// first, optionally filtered by flow_id and status query params.
// (GET /api/messages)
func (s *Server) ListMessages(c echo.Context) error {
	var filter repository.MessageFilter
	var rawFlowID int64
	if err := echo.QueryParamsBinder(c).Int64("flow_id", &rawFlowID).BindError(); err == nil && rawFlowID > 0 {
		filter.FlowID = &rawFlowID
	}
	filter.Status = c.QueryParam("status")

	messages, err := s.store.ListMessages(c.Request().Context(), orgID(c), filter)
	if err != nil {
		return s.storeError(c, err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return okJSON(c, http.StatusOK, messages)
}

// GetMessage returns one audit record.
// (GET /api/messages/:id)
func (s *Server) GetMessage(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	msg, err := s.store.GetMessage(c.Request().Context(), orgID(c), id)
	if err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, msg)
}
