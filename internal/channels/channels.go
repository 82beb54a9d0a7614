// Package channels wraps the external notification providers behind a single
// dispatcher interface. Every send is a best-effort single attempt; retry
// policy, when enabled, lives in the flow executor.
package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/config"
)

// Provider failure reasons.
const (
	ReasonMissingWebhook         = "missing_webhook"
	ReasonPostFailed             = "post_failed"
	ReasonTransportMisconfigured = "transport_misconfigured"
	ReasonDeliveryRejected       = "delivery_rejected"
)

// ProviderError reports that a notification channel rejected a send or was
// unreachable. It is recorded as the run's terminal error and never surfaced
// synchronously to a caller.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports malformed input to a channel call, such as a
// missing recipient. It is never retried.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// EmailMessage is a plain-text email send request.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
}

// EmailReceipt is the provider acknowledgement for an email send.
type EmailReceipt struct {
	MessageID string `json:"message_id"`
}

// SlackMessage posts text to an incoming-webhook URL.
type SlackMessage struct {
	Webhook string
	Text    string
}

// SlackReceipt carries the webhook endpoint's HTTP status.
type SlackReceipt struct {
	Status int `json:"status"`
}

// WhatsAppMessage sends a message to a phone number.
type WhatsAppMessage struct {
	To      string
	Message string
}

// WhatsAppReceipt is the gateway acknowledgement. Mock is set when no real
// gateway is configured and the send was resolved by the deterministic stub.
type WhatsAppReceipt struct {
	Status int  `json:"status"`
	Mock   bool `json:"mock,omitempty"`
}

// Dispatcher is the polymorphic send surface over the notification channels.
type Dispatcher interface {
	SendEmail(ctx context.Context, msg EmailMessage) (EmailReceipt, error)
	SendSlack(ctx context.Context, msg SlackMessage) (SlackReceipt, error)
	SendWhatsApp(ctx context.Context, msg WhatsAppMessage) (WhatsAppReceipt, error)
}

// The default per-call timeout bounds how long a hung provider can stall a
// scheduler tick.
const defaultCallTimeout = 15 * time.Second

// ProviderDispatcher is the production Dispatcher over SMTP, the Slack
// incoming-webhook API and the Twilio WhatsApp gateway.
type ProviderDispatcher struct {
	email    *emailSender
	slack    *slackSender
	whatsapp *whatsappSender
}

// NewDispatcher builds a dispatcher from channel configuration.
func NewDispatcher(cfg *config.Config, logger *logrus.Logger) *ProviderDispatcher {
	log := logger.WithField("component", "channels")
	return &ProviderDispatcher{
		email:    newEmailSender(cfg, log),
		slack:    newSlackSender(log),
		whatsapp: newWhatsAppSender(cfg, log),
	}
}

// SendEmail delivers a plain-text email over SMTP.
func (d *ProviderDispatcher) SendEmail(ctx context.Context, msg EmailMessage) (EmailReceipt, error) {
	return d.email.send(ctx, msg)
}

// SendSlack posts text to the given incoming-webhook URL.
func (d *ProviderDispatcher) SendSlack(ctx context.Context, msg SlackMessage) (SlackReceipt, error) {
	return d.slack.send(ctx, msg)
}

// SendWhatsApp delivers a message through Twilio, or through the stub when no
// gateway credentials are configured.
func (d *ProviderDispatcher) SendWhatsApp(ctx context.Context, msg WhatsAppMessage) (WhatsAppReceipt, error) {
	return d.whatsapp.send(ctx, msg)
}
