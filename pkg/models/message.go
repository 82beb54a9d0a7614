package models

import (
	"time"
)

// Message statuses.
const (
	MessageStatusDraft  = "draft"
	MessageStatusQueued = "queued"
	MessageStatusSent   = "sent"
	MessageStatusFailed = "failed"
)

// Message is the audit record for one outbound notification. The executor
// inserts a queued row before dispatching a channel step and settles it to
// sent or failed afterwards.
type Message struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organizacion_id"`
	FlowID         *int64         `json:"flow_id"`
	Channel        string         `json:"channel"`
	Recipient      string         `json:"recipient,omitempty"`
	Subject        string         `json:"subject,omitempty"`
	Body           string         `json:"body,omitempty"`
	Status         string         `json:"status"`
	Meta           map[string]any `json:"meta"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
