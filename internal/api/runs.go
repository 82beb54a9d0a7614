package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/pkg/models"
)

// ListRuns returns the organization's newest runs. The limit query param
// caps the page (default 50).
// (GET /api/runs)
func (s *Server) ListRuns(c echo.Context) error {
	var limit int
	echo.QueryParamsBinder(c).Int("limit", &limit)

	runs, err := s.store.ListRuns(c.Request().Context(), orgID(c), limit)
	if err != nil {
		return s.storeError(c, err)
	}
	if runs == nil {
		runs = []*models.FlowRun{}
	}
	return okJSON(c, http.StatusOK, runs)
}

// GetRun returns one run with its terminal status and error, if any.
// (GET /api/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return failJSON(c, http.StatusBadRequest, "invalid_id")
	}
	run, err := s.store.GetRun(c.Request().Context(), orgID(c), id)
	if err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, run)
}
