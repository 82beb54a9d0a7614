package models

import (
	"time"
)

// RunStatus is the lifecycle state of a flow run. Transitions are
// one-directional: pending|queued -> running -> ok|error.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusQueued  RunStatus = "queued"
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
)

// Well-known keys inside FlowRun.Meta.
const (
	RunMetaPayload = "payload" // event context captured at run creation
	RunMetaName    = "name"    // display name for run listings
	RunMetaEvent   = "event"   // trigger key that created the run
	RunMetaEventID = "event_id"
)

// FlowRun is one execution instance of a flow. The flow reference is weak:
// deleting a flow nulls FlowID but keeps the run for audit history.
type FlowRun struct {
	ID             int64          `json:"id"`
	FlowID         *int64         `json:"flow_id"`
	OrganizationID string         `json:"organizacion_id"`
	Status         RunStatus      `json:"status"`
	Error          *string        `json:"error"`
	Meta           map[string]any `json:"meta"`
	StartedAt      *time.Time     `json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at"`
}

// Payload extracts the event context the run was created with. Missing or
// malformed payloads render steps against an empty context rather than
// failing the run.
func (r *FlowRun) Payload() map[string]any {
	if r.Meta == nil {
		return map[string]any{}
	}
	if p, ok := r.Meta[RunMetaPayload].(map[string]any); ok {
		return p
	}
	return map[string]any{}
}
