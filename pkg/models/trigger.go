package models

import (
	"time"
)

// Trigger is an org-scoped trigger record attached to a flow. The flow's
// trigger key alone already drives event matching; these records exist for
// schedule-style triggers and their per-trigger configuration.
type Trigger struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organizacion_id"`
	FlowID         int64          `json:"flow_id"`
	Type           string         `json:"type"`
	Schedule       *string        `json:"schedule"`
	Active         bool           `json:"active"`
	Config         map[string]any `json:"config"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
