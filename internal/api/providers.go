package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/pkg/models"
)

var knownProviders = map[string]bool{
	models.ProviderSlack:    true,
	models.ProviderEmail:    true,
	models.ProviderWhatsApp: true,
}

type connectProviderRequest struct {
	Credentials map[string]any `json:"credentials"`
}

type testProviderRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// ListProviders returns the organization's provider connection records.
// (GET /api/providers)
func (s *Server) ListProviders(c echo.Context) error {
	providers, err := s.store.ListProviders(c.Request().Context(), orgID(c))
	if err != nil {
		return s.storeError(c, err)
	}
	if providers == nil {
		providers = []*models.Provider{}
	}
	return okJSON(c, http.StatusOK, providers)
}

// ConnectProvider stores provider credentials and marks the connection
// active. For Slack this is where the org webhook URL lands.
// (POST /api/providers/:provider/connect)
func (s *Server) ConnectProvider(c echo.Context) error {
	providerID := c.Param("provider")
	if !knownProviders[providerID] {
		return failJSON(c, http.StatusBadRequest, "unknown_provider")
	}
	var req connectProviderRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if len(req.Credentials) == 0 {
		return failJSON(c, http.StatusBadRequest, "credentials_required")
	}

	provider := &models.Provider{
		OrganizationID: orgID(c),
		ProviderID:     providerID,
		Status:         models.ProviderStatusConnected,
		Credentials:    req.Credentials,
	}
	if err := s.store.UpsertProvider(c.Request().Context(), provider); err != nil {
		return s.storeError(c, err)
	}
	return okJSON(c, http.StatusOK, provider)
}

// TestProvider sends a test message through the channel to verify the
// connection end to end.
// (POST /api/providers/:provider/test)
func (s *Server) TestProvider(c echo.Context) error {
	var req testProviderRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Text == "" {
		req.Text = "Vex Flows test message"
	}
	ctx := c.Request().Context()
	org := orgID(c)

	switch c.Param("provider") {
	case models.ProviderSlack:
		webhook, err := s.executor.ResolveSlackWebhook(ctx, org)
		if err != nil {
			return failJSON(c, http.StatusBadRequest, err.Error())
		}
		receipt, err := s.dispatcher.SendSlack(ctx, channels.SlackMessage{Webhook: webhook, Text: req.Text})
		if err != nil {
			return failJSON(c, http.StatusBadGateway, err.Error())
		}
		return okJSON(c, http.StatusOK, receipt)

	case models.ProviderEmail:
		if req.To == "" {
			return failJSON(c, http.StatusBadRequest, "to_required")
		}
		receipt, err := s.dispatcher.SendEmail(ctx, channels.EmailMessage{To: req.To, Subject: "Vex Flows test", Text: req.Text})
		if err != nil {
			return failJSON(c, http.StatusBadGateway, err.Error())
		}
		return okJSON(c, http.StatusOK, receipt)

	case models.ProviderWhatsApp:
		if req.To == "" {
			return failJSON(c, http.StatusBadRequest, "to_required")
		}
		receipt, err := s.dispatcher.SendWhatsApp(ctx, channels.WhatsAppMessage{To: req.To, Message: req.Text})
		if err != nil {
			return failJSON(c, http.StatusBadGateway, err.Error())
		}
		return okJSON(c, http.StatusOK, receipt)
	}
	return failJSON(c, http.StatusBadRequest, "unknown_provider")
}
