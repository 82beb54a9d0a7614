package models

import (
	"time"
)

// Flow is a tenant-scoped automation definition. It reacts to a trigger key
// (an event name such as "crm.deal.won") and owns an ordered list of steps.
type Flow struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organizacion_id"` // tenancy boundary, column name kept from the schema
	Name           string         `json:"name"`
	Trigger        string         `json:"trigger"`
	Active         bool           `json:"active"`
	Meta           map[string]any `json:"meta"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FlowUpdate carries a partial update for a flow. Nil fields are untouched.
type FlowUpdate struct {
	Name    *string         `json:"name"`
	Trigger *string         `json:"trigger"`
	Active  *bool           `json:"active"`
	Meta    *map[string]any `json:"meta"`
}

// Empty reports whether the update would change nothing.
func (u FlowUpdate) Empty() bool {
	return u.Name == nil && u.Trigger == nil && u.Active == nil && u.Meta == nil
}
