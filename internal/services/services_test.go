package services

import (
	"context"
	"sync"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/pkg/models"
)

// fakeStore wraps the in-memory store with seeding helpers.
type fakeStore struct {
	*repository.MemoryStore
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: repository.NewMemoryStore()}
}

func (f *fakeStore) addFlow(orgID, name, trigger string, active bool) *models.Flow {
	flow := &models.Flow{OrganizationID: orgID, Name: name, Trigger: trigger, Active: active}
	if err := f.CreateFlow(context.Background(), flow); err != nil {
		panic(err)
	}
	return flow
}

func (f *fakeStore) addStep(flow *models.Flow, position int, stepType string, config map[string]any) *models.FlowStep {
	step := &models.FlowStep{
		FlowID:         flow.ID,
		OrganizationID: flow.OrganizationID,
		Position:       position,
		Type:           stepType,
		Config:         config,
	}
	if err := f.CreateStep(context.Background(), step); err != nil {
		panic(err)
	}
	return step
}

// addRun inserts a run already claimed by a scheduler tick.
func (f *fakeStore) addRun(orgID string, flowID *int64, payload map[string]any) *models.FlowRun {
	run := &models.FlowRun{
		FlowID:         flowID,
		OrganizationID: orgID,
		Status:         models.RunStatusRunning,
		Meta:           map[string]any{models.RunMetaPayload: payload},
	}
	if err := f.CreateRun(context.Background(), run); err != nil {
		panic(err)
	}
	return run
}

func (f *fakeStore) connectSlack(orgID, webhookURL string) {
	err := f.UpsertProvider(context.Background(), &models.Provider{
		OrganizationID: orgID,
		ProviderID:     models.ProviderSlack,
		Status:         models.ProviderStatusConnected,
		Credentials:    map[string]any{"webhook_url": webhookURL},
	})
	if err != nil {
		panic(err)
	}
}

// sentCall records one dispatch seen by the fake dispatcher.
type sentCall struct {
	channel string
	target  string
	text    string
	subject string
	webhook string
}

// fakeDispatcher implements channels.Dispatcher and records every send.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []sentCall

	emailErr    error
	slackErr    error
	whatsappErr error

	// failFirstN makes the first N slack sends fail before succeeding,
	// for retry policy tests.
	failFirstN int
	attempts   int
}

func (d *fakeDispatcher) SendEmail(ctx context.Context, msg channels.EmailMessage) (channels.EmailReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emailErr != nil {
		return channels.EmailReceipt{}, d.emailErr
	}
	d.calls = append(d.calls, sentCall{channel: "email", target: msg.To, subject: msg.Subject, text: msg.Text})
	return channels.EmailReceipt{MessageID: "msg-1"}, nil
}

func (d *fakeDispatcher) SendSlack(ctx context.Context, msg channels.SlackMessage) (channels.SlackReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failFirstN > 0 && d.attempts <= d.failFirstN {
		return channels.SlackReceipt{}, &channels.ProviderError{Provider: "slack", Reason: channels.ReasonPostFailed}
	}
	if d.slackErr != nil {
		return channels.SlackReceipt{}, d.slackErr
	}
	d.calls = append(d.calls, sentCall{channel: "slack", webhook: msg.Webhook, text: msg.Text})
	return channels.SlackReceipt{Status: 200}, nil
}

func (d *fakeDispatcher) SendWhatsApp(ctx context.Context, msg channels.WhatsAppMessage) (channels.WhatsAppReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.whatsappErr != nil {
		return channels.WhatsAppReceipt{}, d.whatsappErr
	}
	d.calls = append(d.calls, sentCall{channel: "whatsapp", target: msg.To, text: msg.Message})
	return channels.WhatsAppReceipt{Status: 200}, nil
}

func (d *fakeDispatcher) sent() []sentCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentCall, len(d.calls))
	copy(out, d.calls)
	return out
}
