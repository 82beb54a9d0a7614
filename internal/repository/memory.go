package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vex-flows/backend/pkg/models"
)

// MemoryStore is an in-process Store with the same semantics as
// PostgresStore. It backs handler and service tests and local development
// without a database; it does not survive restarts and offers no cross-
// process claim isolation beyond its own mutex.
type MemoryStore struct {
	mu        sync.Mutex
	flows     map[int64]*models.Flow
	steps     map[int64]*models.FlowStep
	runs      map[int64]*models.FlowRun
	providers map[string]*models.Provider
	triggers  map[int64]*models.Trigger
	messages  map[int64]*models.Message
	nextID    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:     map[int64]*models.Flow{},
		steps:     map[int64]*models.FlowStep{},
		runs:      map[int64]*models.FlowRun{},
		providers: map[string]*models.Provider{},
		triggers:  map[int64]*models.Trigger{},
		messages:  map[int64]*models.Message{},
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func providerKey(orgID, providerID string) string {
	return orgID + "/" + providerID
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	if flow.Trigger == "" {
		return fmt.Errorf("flow trigger must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow.ID = s.id()
	now := time.Now()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	s.flows[flow.ID] = flow
	return nil
}

func (s *MemoryStore) GetFlow(ctx context.Context, orgID string, id int64) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFlowLocked(orgID, id)
}

func (s *MemoryStore) getFlowLocked(orgID string, id int64) (*models.Flow, error) {
	flow, ok := s.flows[id]
	if !ok || flow.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return flow, nil
}

func (s *MemoryStore) ListFlows(ctx context.Context, orgID string) ([]*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Flow{}
	for _, flow := range s.flows {
		if flow.OrganizationID == orgID {
			out = append(out, flow)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateFlow(ctx context.Context, orgID string, id int64, upd models.FlowUpdate) (*models.Flow, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("nothing to update")
	}
	if upd.Trigger != nil && *upd.Trigger == "" {
		return nil, fmt.Errorf("flow trigger must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, err := s.getFlowLocked(orgID, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		flow.Name = *upd.Name
	}
	if upd.Trigger != nil {
		flow.Trigger = *upd.Trigger
	}
	if upd.Active != nil {
		flow.Active = *upd.Active
	}
	if upd.Meta != nil {
		flow.Meta = *upd.Meta
	}
	flow.UpdatedAt = time.Now()
	return flow, nil
}

func (s *MemoryStore) DeleteFlow(ctx context.Context, orgID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getFlowLocked(orgID, id); err != nil {
		return err
	}
	delete(s.flows, id)
	for stepID, step := range s.steps {
		if step.FlowID == id {
			delete(s.steps, stepID)
		}
	}
	for triggerID, trigger := range s.triggers {
		if trigger.FlowID == id {
			delete(s.triggers, triggerID)
		}
	}
	// Runs keep a null flow reference, matching ON DELETE SET NULL.
	for _, run := range s.runs {
		if run.FlowID != nil && *run.FlowID == id {
			run.FlowID = nil
		}
	}
	return nil
}

func (s *MemoryStore) ListActiveFlowsByTrigger(ctx context.Context, orgID, trigger string) ([]*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Flow{}
	for _, flow := range s.flows {
		if flow.OrganizationID == orgID && flow.Trigger == trigger && flow.Active {
			out = append(out, flow)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *models.FlowStep) error {
	if step.Type == "" {
		return fmt.Errorf("step type must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getFlowLocked(step.OrganizationID, step.FlowID); err != nil {
		return err
	}
	step.ID = s.id()
	step.CreatedAt = time.Now()
	s.steps[step.ID] = step
	return nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, orgID string, flowID int64) ([]*models.FlowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.FlowStep{}
	for _, step := range s.steps {
		if step.FlowID == flowID && step.OrganizationID == orgID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position == out[j].Position {
			return out[i].ID < out[j].ID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (s *MemoryStore) DeleteStep(ctx context.Context, orgID string, flowID, stepID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok || step.FlowID != flowID || step.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(s.steps, stepID)
	return nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Status == "" {
		run.Status = models.RunStatusQueued
	}
	run.ID = s.id()
	now := time.Now()
	run.StartedAt = &now
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, orgID string, id int64) (*models.FlowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return run, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, orgID string, limit int) ([]*models.FlowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.FlowRun{}
	for _, run := range s.runs {
		if run.OrganizationID == orgID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.StartedAt == nil && b.StartedAt == nil:
			return a.ID > b.ID
		case a.StartedAt == nil:
			return false
		case b.StartedAt == nil:
			return true
		case a.StartedAt.Equal(*b.StartedAt):
			return a.ID > b.ID
		default:
			return a.StartedAt.After(*b.StartedAt)
		}
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ClaimRuns(ctx context.Context, limit int) ([]*models.FlowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := []*models.FlowRun{}
	for _, run := range s.runs {
		if (run.Status == models.RunStatusPending || run.Status == models.RunStatusQueued) && run.FlowID != nil {
			eligible = append(eligible, run)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
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
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	for _, run := range eligible {
		run.Status = models.RunStatusRunning
	}
	return eligible, nil
}

func (s *MemoryStore) CompleteRun(ctx context.Context, id int64, status models.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if status == models.RunStatusError && errMsg != "" {
		run.Error = &errMsg
	} else {
		run.Error = nil
	}
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

func (s *MemoryStore) RequeueStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var requeued int64
	for _, run := range s.runs {
		if run.Status == models.RunStatusRunning && run.StartedAt != nil && run.StartedAt.Before(cutoff) {
			run.Status = models.RunStatusQueued
			requeued++
		}
	}
	return requeued, nil
}

func (s *MemoryStore) GetProvider(ctx context.Context, orgID, providerID string) (*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[providerKey(orgID, providerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListProviders(ctx context.Context, orgID string) ([]*models.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Provider{}
	for _, p := range s.providers {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

func (s *MemoryStore) UpsertProvider(ctx context.Context, provider *models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := providerKey(provider.OrganizationID, provider.ProviderID)
	if existing, ok := s.providers[key]; ok {
		provider.ID = existing.ID
	} else {
		provider.ID = s.id()
	}
	provider.UpdatedAt = time.Now()
	s.providers[key] = provider
	return nil
}

func (s *MemoryStore) CreateTrigger(ctx context.Context, trigger *models.Trigger) error {
	if trigger.Type == "" {
		return fmt.Errorf("trigger type must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getFlowLocked(trigger.OrganizationID, trigger.FlowID); err != nil {
		return err
	}
	trigger.ID = s.id()
	now := time.Now()
	trigger.CreatedAt = now
	trigger.UpdatedAt = now
	s.triggers[trigger.ID] = trigger
	return nil
}

func (s *MemoryStore) ListTriggers(ctx context.Context, orgID string, flowID *int64) ([]*models.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Trigger{}
	for _, trigger := range s.triggers {
		if trigger.OrganizationID != orgID {
			continue
		}
		if flowID != nil && trigger.FlowID != *flowID {
			continue
		}
		out = append(out, trigger)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteTrigger(ctx context.Context, orgID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trigger, ok := s.triggers[id]
	if !ok || trigger.OrganizationID != orgID {
		return ErrNotFound
	}
	delete(s.triggers, id)
	return nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Status == "" {
		msg.Status = models.MessageStatusQueued
	}
	msg.ID = s.id()
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	s.messages[msg.ID] = msg
	return nil
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id int64, status string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = status
	if meta != nil {
		msg.Meta = meta
	}
	msg.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, orgID string, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok || msg.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, orgID string, filter MessageFilter) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Message{}
	for _, msg := range s.messages {
		if msg.OrganizationID != orgID {
			continue
		}
		if filter.FlowID != nil && (msg.FlowID == nil || *msg.FlowID != *filter.FlowID) {
			continue
		}
		if filter.Status != "" && msg.Status != filter.Status {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
