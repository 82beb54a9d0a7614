package repository

import (
	"context"
	"errors"
	"time"

	"vex-flows/backend/pkg/models"
)

// ErrNotFound is returned when a record does not exist within the caller's
// organization. Cross-organization rows are indistinguishable from absent
// ones on purpose.
var ErrNotFound = errors.New("record not found")

// MessageFilter narrows message listings.
type MessageFilter struct {
	FlowID *int64
	Status string
}

// Store is the persistence surface for flows, steps, runs, providers,
// triggers and the message audit log. Every method that reads or mutates
// tenant data takes the organization id and scopes the query with it.
type Store interface {
	Ping(ctx context.Context) error

	// Flows
	CreateFlow(ctx context.Context, flow *models.Flow) error
	GetFlow(ctx context.Context, orgID string, id int64) (*models.Flow, error)
	ListFlows(ctx context.Context, orgID string) ([]*models.Flow, error)
	UpdateFlow(ctx context.Context, orgID string, id int64, upd models.FlowUpdate) (*models.Flow, error)
	DeleteFlow(ctx context.Context, orgID string, id int64) error
	// ListActiveFlowsByTrigger returns the active flows in orgID whose
	// trigger key equals trigger.
	ListActiveFlowsByTrigger(ctx context.Context, orgID, trigger string) ([]*models.Flow, error)

	// Steps
	CreateStep(ctx context.Context, step *models.FlowStep) error
	ListSteps(ctx context.Context, orgID string, flowID int64) ([]*models.FlowStep, error)
	DeleteStep(ctx context.Context, orgID string, flowID, stepID int64) error

	// Runs
	CreateRun(ctx context.Context, run *models.FlowRun) error
	GetRun(ctx context.Context, orgID string, id int64) (*models.FlowRun, error)
	ListRuns(ctx context.Context, orgID string, limit int) ([]*models.FlowRun, error)
	// ClaimRuns atomically selects up to limit pending/queued runs with a
	// live flow reference, marks them running and returns them. Rows locked
	// by a concurrent claimer are skipped, never waited on.
	ClaimRuns(ctx context.Context, limit int) ([]*models.FlowRun, error)
	// CompleteRun records the terminal status of a run. errMsg is stored
	// only for the error status.
	CompleteRun(ctx context.Context, id int64, status models.RunStatus, errMsg string) error
	// RequeueStaleRuns moves runs stuck in running back to queued when they
	// started more than olderThan ago. Returns the number of requeued runs.
	RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)

	// Providers
	GetProvider(ctx context.Context, orgID, providerID string) (*models.Provider, error)
	ListProviders(ctx context.Context, orgID string) ([]*models.Provider, error)
	UpsertProvider(ctx context.Context, provider *models.Provider) error

	// Triggers
	CreateTrigger(ctx context.Context, trigger *models.Trigger) error
	ListTriggers(ctx context.Context, orgID string, flowID *int64) ([]*models.Trigger, error)
	DeleteTrigger(ctx context.Context, orgID string, id int64) error

	// Messages
	InsertMessage(ctx context.Context, msg *models.Message) error
	UpdateMessageStatus(ctx context.Context, id int64, status string, meta map[string]any) error
	GetMessage(ctx context.Context, orgID string, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, orgID string, filter MessageFilter) ([]*models.Message, error)
}
