package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/services"
)

const secretHeader = "X-VEX-SECRET"

type gmailWebhookRequest struct {
	OrgID   string         `json:"org_id"`
	Payload map[string]any `json:"payload"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

// GmailWebhook receives inbound mail notifications from the mail collaborator
// and forwards them into event ingestion as gmail.message.created.
// (POST /webhooks/gmail)
func (s *Server) GmailWebhook(c echo.Context) error {
	if !s.webhookAuthorized(c, s.cfg.Server.GmailWebhookSecret) {
		return failJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	var req gmailWebhookRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.OrgID == "" {
		return failJSON(c, http.StatusBadRequest, "org_id_required")
	}

	result, err := s.events.Ingest(c.Request().Context(), req.OrgID, services.Event{
		Source:  "gmail",
		Event:   "gmail.message.created",
		Payload: req.Payload,
	})
	if err != nil {
		return s.storeError(c, err)
	}

	status := http.StatusOK
	if result.Handled || len(result.CreatedRuns) > 0 {
		status = http.StatusAccepted
	}
	return okJSON(c, status, result)
}

// PasswordResetWebhook lets the core service delegate reset mail delivery to
// this service's email channel.
// (POST /webhooks/core/password-reset)
func (s *Server) PasswordResetWebhook(c echo.Context) error {
	if !s.webhookAuthorized(c, s.cfg.Server.PasswordResetSecret) {
		return failJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	var req passwordResetRequest
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid_body")
	}
	if req.Email == "" || req.Token == "" {
		return failJSON(c, http.StatusBadRequest, "email_and_token_required")
	}

	resetURL := fmt.Sprintf("%s?token=%s", s.cfg.Server.PasswordResetURL, req.Token)
	receipt, err := s.dispatcher.SendEmail(c.Request().Context(), channels.EmailMessage{
		To:      req.Email,
		Subject: "Restablecer contraseña",
		Text:    fmt.Sprintf("Para restablecer tu contraseña, abrí este enlace: %s", resetURL),
	})
	if err != nil {
		s.log.WithError(err).Error("password reset mail failed")
		return failJSON(c, http.StatusBadGateway, "send_failed")
	}
	return okJSON(c, http.StatusOK, receipt)
}

// webhookAuthorized checks the shared-secret header. An unset secret closes
// the endpoint rather than opening it.
func (s *Server) webhookAuthorized(c echo.Context, secret string) bool {
	return secret != "" && c.Request().Header.Get(secretHeader) == secret
}
