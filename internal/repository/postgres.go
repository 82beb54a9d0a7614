package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vex-flows/backend/pkg/models"
)

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const flowColumns = `id, organizacion_id, name, trigger, active, meta, COALESCE(created_by, ''), created_at, updated_at`

func scanFlow(row pgx.Row) (*models.Flow, error) {
	var f models.Flow
	err := row.Scan(&f.ID, &f.OrganizationID, &f.Name, &f.Trigger, &f.Active, &f.Meta, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// CreateFlow inserts a flow. The trigger key must be non-empty; that
// invariant is validated at the API boundary and enforced here as a guard.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	if flow.Trigger == "" {
		return fmt.Errorf("flow trigger must not be empty")
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO flows (organizacion_id, name, trigger, active, meta, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		flow.OrganizationID, flow.Name, flow.Trigger, flow.Active, flow.Meta, flow.CreatedBy,
	).Scan(&flow.ID, &flow.CreatedAt, &flow.UpdatedAt)
}

// GetFlow retrieves a flow by id within the organization.
func (s *PostgresStore) GetFlow(ctx context.Context, orgID string, id int64) (*models.Flow, error) {
	return scanFlow(s.db.QueryRow(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE id = $1 AND organizacion_id = $2`,
		id, orgID))
}

// ListFlows returns the organization's flows, most recently updated first.
func (s *PostgresStore) ListFlows(ctx context.Context, orgID string) ([]*models.Flow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+flowColumns+` FROM flows
		 WHERE organizacion_id = $1
		 ORDER BY updated_at DESC NULLS LAST, created_at DESC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// UpdateFlow applies a partial update and returns the updated row.
func (s *PostgresStore) UpdateFlow(ctx context.Context, orgID string, id int64, upd models.FlowUpdate) (*models.Flow, error) {
	sets := []string{}
	values := []any{}
	i := 1

	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", i))
		values = append(values, *upd.Name)
		i++
	}
	if upd.Trigger != nil {
		if *upd.Trigger == "" {
			return nil, fmt.Errorf("flow trigger must not be empty")
		}
		sets = append(sets, fmt.Sprintf("trigger = $%d", i))
		values = append(values, *upd.Trigger)
		i++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", i))
		values = append(values, *upd.Active)
		i++
	}
	if upd.Meta != nil {
		sets = append(sets, fmt.Sprintf("meta = $%d", i))
		values = append(values, *upd.Meta)
		i++
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("nothing to update")
	}
	sets = append(sets, "updated_at = now()")

	values = append(values, id, orgID)
	query := fmt.Sprintf(
		`UPDATE flows SET %s WHERE id = $%d AND organizacion_id = $%d RETURNING `+flowColumns,
		strings.Join(sets, ", "), i, i+1)

	return scanFlow(s.db.QueryRow(ctx, query, values...))
}

// DeleteFlow removes a flow. Steps cascade away, runs keep a null reference.
func (s *PostgresStore) DeleteFlow(ctx context.Context, orgID string, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM flows WHERE id = $1 AND organizacion_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveFlowsByTrigger returns the active flows matching a trigger key.
func (s *PostgresStore) ListActiveFlowsByTrigger(ctx context.Context, orgID, trigger string) ([]*models.Flow, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+flowColumns+` FROM flows
		 WHERE organizacion_id = $1 AND trigger = $2 AND active = TRUE
		 ORDER BY id ASC`,
		orgID, trigger)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// CreateStep inserts a flow step after verifying the flow belongs to the
// step's organization.
func (s *PostgresStore) CreateStep(ctx context.Context, step *models.FlowStep) error {
	if step.Type == "" {
		return fmt.Errorf("step type must not be empty")
	}
	if _, err := s.GetFlow(ctx, step.OrganizationID, step.FlowID); err != nil {
		return err
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO flow_steps (flow_id, organizacion_id, position, type, config)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		step.FlowID, step.OrganizationID, step.Position, step.Type, step.Config,
	).Scan(&step.ID, &step.CreatedAt)
}

// ListSteps returns a flow's steps ordered by position.
func (s *PostgresStore) ListSteps(ctx context.Context, orgID string, flowID int64) ([]*models.FlowStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, flow_id, organizacion_id, position, type, config, created_at
		 FROM flow_steps
		 WHERE flow_id = $1 AND organizacion_id = $2
		 ORDER BY position ASC`,
		flowID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.FlowStep
	for rows.Next() {
		var st models.FlowStep
		if err := rows.Scan(&st.ID, &st.FlowID, &st.OrganizationID, &st.Position, &st.Type, &st.Config, &st.CreatedAt); err != nil {
			return nil, err
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// DeleteStep removes one step from a flow.
func (s *PostgresStore) DeleteStep(ctx context.Context, orgID string, flowID, stepID int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM flow_steps WHERE id = $1 AND flow_id = $2 AND organizacion_id = $3`,
		stepID, flowID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, flow_id, organizacion_id, status, error, meta, started_at, finished_at`

func scanRun(row pgx.Row) (*models.FlowRun, error) {
	var r models.FlowRun
	err := row.Scan(&r.ID, &r.FlowID, &r.OrganizationID, &r.Status, &r.Error, &r.Meta, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a run record. Status defaults to queued when unset.
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.FlowRun) error {
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO flow_runs (flow_id, organizacion_id, status, meta)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, started_at`,
		run.FlowID, run.OrganizationID, run.Status, run.Meta,
	).Scan(&run.ID, &run.StartedAt)
}

// GetRun retrieves a run by id within the organization.
func (s *PostgresStore) GetRun(ctx context.Context, orgID string, id int64) (*models.FlowRun, error) {
	return scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM flow_runs WHERE id = $1 AND organizacion_id = $2`,
		id, orgID))
}

// ListRuns returns the organization's runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, orgID string, limit int) ([]*models.FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM flow_runs
		 WHERE organizacion_id = $1
		 ORDER BY started_at DESC NULLS LAST, id DESC
		 LIMIT $2`,
		orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.FlowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ClaimRuns atomically transitions up to limit eligible runs to running and
// returns them. The locking SELECT skips rows held by concurrent claimers,
// so two schedulers, in the same process or across instances, can never end
// up owning the same run. Eligible runs are ordered earliest started_at
// first with the id as tie-breaker.
func (s *PostgresStore) ClaimRuns(ctx context.Context, limit int) ([]*models.FlowRun, error) {
	rows, err := s.db.Query(ctx,
		`WITH claimable AS (
			SELECT id FROM flow_runs
			WHERE status IN ('pending', 'queued') AND flow_id IS NOT NULL
			ORDER BY started_at ASC NULLS LAST, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE flow_runs r
		SET status = 'running'
		FROM claimable c
		WHERE r.id = c.id
		RETURNING r.id, r.flow_id, r.organizacion_id, r.status, r.error, r.meta, r.started_at, r.finished_at`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.FlowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not promise row order; restore claim order.
	sort.Slice(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		switch {
		case a.StartedAt == nil && b.StartedAt == nil:
			return a.ID < b.ID
		case a.StartedAt == nil:
			return false
		case b.StartedAt == nil:
			return true
		case a.StartedAt.Equal(*b.StartedAt):
			return a.ID < b.ID
		default:
			return a.StartedAt.Before(*b.StartedAt)
		}
	})
	return runs, nil
}

// CompleteRun records the terminal status of a run.
func (s *PostgresStore) CompleteRun(ctx context.Context, id int64, status models.RunStatus, errMsg string) error {
	var errVal *string
	if status == models.RunStatusError && errMsg != "" {
		errVal = &errMsg
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE flow_runs SET status = $1, error = $2, finished_at = now() WHERE id = $3`,
		status, errVal, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStaleRuns moves runs that have been running for longer than
// olderThan back to queued so a later tick can pick them up again.
func (s *PostgresStore) RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE flow_runs SET status = 'queued'
		 WHERE status = 'running' AND started_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetProvider returns the organization's connection record for a provider.
func (s *PostgresStore) GetProvider(ctx context.Context, orgID, providerID string) (*models.Provider, error) {
	var p models.Provider
	err := s.db.QueryRow(ctx,
		`SELECT id, organizacion_id, provider_id, status, credentials, updated_at
		 FROM flow_providers
		 WHERE organizacion_id = $1 AND provider_id = $2`,
		orgID, providerID,
	).Scan(&p.ID, &p.OrganizationID, &p.ProviderID, &p.Status, &p.Credentials, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProviders returns the organization's provider connection records.
func (s *PostgresStore) ListProviders(ctx context.Context, orgID string) ([]*models.Provider, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, organizacion_id, provider_id, status, credentials, updated_at
		 FROM flow_providers
		 WHERE organizacion_id = $1
		 ORDER BY provider_id ASC`,
		orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []*models.Provider
	for rows.Next() {
		var p models.Provider
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.ProviderID, &p.Status, &p.Credentials, &p.UpdatedAt); err != nil {
			return nil, err
		}
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// UpsertProvider creates or replaces the organization's connection record
// for a provider.
func (s *PostgresStore) UpsertProvider(ctx context.Context, provider *models.Provider) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO flow_providers (organizacion_id, provider_id, status, credentials, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (organizacion_id, provider_id)
		 DO UPDATE SET status = EXCLUDED.status, credentials = EXCLUDED.credentials, updated_at = now()
		 RETURNING id, updated_at`,
		provider.OrganizationID, provider.ProviderID, provider.Status, provider.Credentials,
	).Scan(&provider.ID, &provider.UpdatedAt)
}

// CreateTrigger inserts a trigger record for a flow in the organization.
func (s *PostgresStore) CreateTrigger(ctx context.Context, trigger *models.Trigger) error {
	if trigger.Type == "" {
		return fmt.Errorf("trigger type must not be empty")
	}
	if _, err := s.GetFlow(ctx, trigger.OrganizationID, trigger.FlowID); err != nil {
		return err
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO triggers (organizacion_id, flow_id, type, schedule, active, config)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		trigger.OrganizationID, trigger.FlowID, trigger.Type, trigger.Schedule, trigger.Active, trigger.Config,
	).Scan(&trigger.ID, &trigger.CreatedAt, &trigger.UpdatedAt)
}

// ListTriggers returns the organization's triggers, optionally narrowed to
// one flow.
func (s *PostgresStore) ListTriggers(ctx context.Context, orgID string, flowID *int64) ([]*models.Trigger, error) {
	query := `SELECT id, organizacion_id, flow_id, type, schedule, active, config, created_at, updated_at
		 FROM triggers WHERE organizacion_id = $1`
	args := []any{orgID}
	if flowID != nil {
		query += ` AND flow_id = $2`
		args = append(args, *flowID)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		var t models.Trigger
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.FlowID, &t.Type, &t.Schedule, &t.Active, &t.Config, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		triggers = append(triggers, &t)
	}
	return triggers, rows.Err()
}

// DeleteTrigger removes a trigger within the organization.
func (s *PostgresStore) DeleteTrigger(ctx context.Context, orgID string, id int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM triggers WHERE id = $1 AND organizacion_id = $2`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const messageColumns = `id, organizacion_id, flow_id, channel, COALESCE(recipient, ''), COALESCE(subject, ''), COALESCE(body, ''), status, meta, created_at, updated_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.OrganizationID, &m.FlowID, &m.Channel, &m.Recipient, &m.Subject, &m.Body, &m.Status, &m.Meta, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// InsertMessage records an outbound notification in the audit log.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.Status == "" {
		msg.Status = models.MessageStatusQueued
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO messages (organizacion_id, flow_id, channel, recipient, subject, body, status, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		msg.OrganizationID, msg.FlowID, msg.Channel, msg.Recipient, msg.Subject, msg.Body, msg.Status, msg.Meta,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
}

// UpdateMessageStatus settles an audit row after a dispatch attempt.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id int64, status string, meta map[string]any) error {
	_, err := s.db.Exec(ctx,
		`UPDATE messages SET status = $1, meta = COALESCE($2, meta), updated_at = now() WHERE id = $3`,
		status, meta, id)
	return err
}

// GetMessage retrieves one audit row within the organization.
func (s *PostgresStore) GetMessage(ctx context.Context, orgID string, id int64) (*models.Message, error) {
	return scanMessage(s.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND organizacion_id = $2`,
		id, orgID))
}

// ListMessages returns the organization's audit rows, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, orgID string, filter MessageFilter) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE organizacion_id = $1`
	args := []any{orgID}
	if filter.FlowID != nil {
		args = append(args, *filter.FlowID)
		query += fmt.Sprintf(` AND flow_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
