package models

import (
	"fmt"
	"time"
)

// Step type identifiers as stored in flow_steps.type.
const (
	StepSlackPost    = "slack.post"
	StepWhatsAppSend = "whatsapp.send"
	StepEmailSend    = "email.send"
	StepTaskCreate   = "task.create"
)

// FlowStep is one ordered action within a flow. Position is 1-based and
// defines execution order. The organization id is denormalized so every
// query path can enforce tenancy without a join.
type FlowStep struct {
	ID             int64          `json:"id"`
	FlowID         int64          `json:"flow_id"`
	OrganizationID string         `json:"organizacion_id"`
	Position       int            `json:"position"`
	Type           string         `json:"type"`
	Config         map[string]any `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StepAction is the closed set of executable step kinds. Each variant carries
// its own typed configuration with the raw template strings still unrendered.
// The executor type-switches over the variants; an unknown step type never
// reaches this set because ParseStepAction rejects it.
type StepAction interface {
	stepAction()
}

// SlackPost posts a rendered template to the organization's Slack webhook.
type SlackPost struct {
	Template string
}

// WhatsAppSend sends a rendered message to a rendered destination number.
type WhatsAppSend struct {
	To       string
	Template string
}

// EmailSend sends a plain-text email.
type EmailSend struct {
	To      string
	Subject string
	Text    string
}

// TaskCreate is acknowledged but performs no external effect. Task creation
// is owned by the CRM collaborator.
type TaskCreate struct {
	Config map[string]any
}

func (SlackPost) stepAction()    {}
func (WhatsAppSend) stepAction() {}
func (EmailSend) stepAction()    {}
func (TaskCreate) stepAction()   {}

// UnsupportedStepError marks a step whose type is outside the known set.
// It is fatal for the run it appears in.
type UnsupportedStepError struct {
	Type string
}

func (e *UnsupportedStepError) Error() string {
	return fmt.Sprintf("unsupported_step:%s", e.Type)
}

// DefaultEmailSubject is used when a step config carries no subject.
const DefaultEmailSubject = "Vex Flow"

// ParseStepAction maps a stored step onto its typed action variant.
// Config keys follow the legacy schema: "template" with "text" as an alias
// for Slack, "template" with "template_id" as an alias for WhatsApp, and
// "text" with "body" as an alias for email.
func ParseStepAction(step *FlowStep) (StepAction, error) {
	cfg := step.Config
	switch step.Type {
	case StepSlackPost:
		return SlackPost{Template: configString(cfg, "template", "text")}, nil
	case StepWhatsAppSend:
		return WhatsAppSend{
			To:       configString(cfg, "to"),
			Template: configString(cfg, "template", "template_id"),
		}, nil
	case StepEmailSend:
		subject := configString(cfg, "subject")
		if subject == "" {
			subject = DefaultEmailSubject
		}
		return EmailSend{
			To:      configString(cfg, "to"),
			Subject: subject,
			Text:    configString(cfg, "text", "body"),
		}, nil
	case StepTaskCreate:
		return TaskCreate{Config: cfg}, nil
	default:
		return nil, &UnsupportedStepError{Type: step.Type}
	}
}

// configString returns the first non-empty string value among keys.
func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
