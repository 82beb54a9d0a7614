package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExecutorRunsStepsInOrder(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	exec := NewExecutor(store, dispatcher, DefaultRetryPolicy(), "", testLogger())

	store.connectSlack("org-1", "https://hooks.slack.test/T1")
	flow := store.addFlow("org-1", "Deal follow-up", "crm.deal.created", true)
	store.addStep(flow, 2, models.StepEmailSend, map[string]any{
		"to": "{{deal.owner_email}}", "subject": "Deal {{deal.name}}", "text": "Review {{deal.name}}",
	})
	store.addStep(flow, 1, models.StepSlackPost, map[string]any{
		"template": "Nuevo deal: {{deal.name}}",
	})
	store.addStep(flow, 3, models.StepWhatsAppSend, map[string]any{
		"to": "+5491100000000", "template": "Deal {{deal.name}} asignado",
	})

	run := store.addRun("org-1", &flow.ID, map[string]any{
		"deal": map[string]any{"name": "Acme", "owner_email": "ana@acme.test"},
	})

	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, got.Status)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.FinishedAt)

	calls := dispatcher.sent()
	require.Len(t, calls, 3)
	assert.Equal(t, "slack", calls[0].channel)
	assert.Equal(t, "Nuevo deal: Acme", calls[0].text)
	assert.Equal(t, "https://hooks.slack.test/T1", calls[0].webhook)
	assert.Equal(t, "email", calls[1].channel)
	assert.Equal(t, "ana@acme.test", calls[1].target)
	assert.Equal(t, "Deal Acme", calls[1].subject)
	assert.Equal(t, "whatsapp", calls[2].channel)
	assert.Equal(t, "Deal Acme asignado", calls[2].text)
}

func TestExecutorRecordsMessageAudit(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	exec := NewExecutor(store, dispatcher, DefaultRetryPolicy(), "https://hooks.slack.test/fallback", testLogger())

	flow := store.addFlow("org-1", "Audit flow", "x", true)
	store.addStep(flow, 1, models.StepSlackPost, map[string]any{"template": "hola"})
	run := store.addRun("org-1", &flow.ID, nil)

	exec.Execute(context.Background(), run)

	msgs, err := store.ListMessages(context.Background(), "org-1", repository.MessageFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.ProviderSlack, msgs[0].Channel)
	assert.Equal(t, "hola", msgs[0].Body)
	assert.Equal(t, models.MessageStatusSent, msgs[0].Status)
}

func TestExecutorFailsRunWithoutFlow(t *testing.T) {
	store := newFakeStore()
	exec := NewExecutor(store, &fakeDispatcher{}, DefaultRetryPolicy(), "", testLogger())

	run := store.addRun("org-1", nil, nil)
	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrFlowNotFound, *got.Error)
}

func TestExecutorFailsRunWhenFlowDeleted(t *testing.T) {
	store := newFakeStore()
	exec := NewExecutor(store, &fakeDispatcher{}, DefaultRetryPolicy(), "", testLogger())

	missing := int64(999)
	run := store.addRun("org-1", &missing, nil)
	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrFlowNotFound, *got.Error)
}

func TestExecutorStopsAtUnsupportedStep(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	exec := NewExecutor(store, dispatcher, DefaultRetryPolicy(), "https://hooks.slack.test/fb", testLogger())

	flow := store.addFlow("org-1", "Mixed flow", "x", true)
	store.addStep(flow, 1, models.StepSlackPost, map[string]any{"template": "one"})
	store.addStep(flow, 2, "carrier.pigeon", map[string]any{})
	store.addStep(flow, 3, models.StepSlackPost, map[string]any{"template": "three"})

	run := store.addRun("org-1", &flow.ID, nil)
	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "unsupported_step:carrier.pigeon", *got.Error)

	calls := dispatcher.sent()
	require.Len(t, calls, 1, "steps after the unsupported one must not run")
	assert.Equal(t, "one", calls[0].text)
}

func TestExecutorSlackNotConnected(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	exec := NewExecutor(store, dispatcher, DefaultRetryPolicy(), "", testLogger())

	flow := store.addFlow("org-1", "Slack only", "x", true)
	store.addStep(flow, 1, models.StepSlackPost, map[string]any{"template": "hola"})
	run := store.addRun("org-1", &flow.ID, nil)

	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, ErrSlackNotConnected, *got.Error)
	assert.Empty(t, dispatcher.sent())
}

func TestExecutorTaskCreateIsNoOp(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	exec := NewExecutor(store, dispatcher, DefaultRetryPolicy(), "", testLogger())

	flow := store.addFlow("org-1", "Tasks", "x", true)
	store.addStep(flow, 1, models.StepTaskCreate, map[string]any{"title": "llamar"})
	run := store.addRun("org-1", &flow.ID, nil)

	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, got.Status)
	assert.Empty(t, dispatcher.sent())
}

func TestResolveSlackWebhookPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("provider wins over fallback", func(t *testing.T) {
		store := newFakeStore()
		store.connectSlack("org-1", "https://hooks.slack.test/org")
		exec := NewExecutor(store, &fakeDispatcher{}, DefaultRetryPolicy(), "https://hooks.slack.test/fb", testLogger())

		webhook, err := exec.ResolveSlackWebhook(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.slack.test/org", webhook)
	})

	t.Run("fallback when no provider", func(t *testing.T) {
		store := newFakeStore()
		exec := NewExecutor(store, &fakeDispatcher{}, DefaultRetryPolicy(), "https://hooks.slack.test/fb", testLogger())

		webhook, err := exec.ResolveSlackWebhook(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, "https://hooks.slack.test/fb", webhook)
	})

	t.Run("pending provider does not count", func(t *testing.T) {
		store := newFakeStore()
		require.NoError(t, store.UpsertProvider(ctx, &models.Provider{
			OrganizationID: "org-1",
			ProviderID:     models.ProviderSlack,
			Status:         models.ProviderStatusPending,
			Credentials:    map[string]any{"webhook_url": "https://hooks.slack.test/pending"},
		}))
		exec := NewExecutor(store, &fakeDispatcher{}, DefaultRetryPolicy(), "", testLogger())

		_, err := exec.ResolveSlackWebhook(ctx, "org-1")
		require.Error(t, err)
		assert.Equal(t, ErrSlackNotConnected, err.Error())
	})
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{failFirstN: 2}
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	exec := NewExecutor(store, dispatcher, policy, "https://hooks.slack.test/fb", testLogger())

	flow := store.addFlow("org-1", "Retry flow", "x", true)
	store.addStep(flow, 1, models.StepSlackPost, map[string]any{"template": "hola"})
	run := store.addRun("org-1", &flow.ID, nil)

	exec.Execute(context.Background(), run)

	got, err := store.GetRun(context.Background(), "org-1", run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusOK, got.Status)
	require.Len(t, dispatcher.sent(), 1)
}

func TestRetryPolicyPermanentErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond}
	attempts := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (map[string]any, error) {
		attempts++
		return nil, &channels.ValidationError{Field: "to"}
	})
	require.Error(t, err)
	var verr *channels.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, attempts, "validation failures must not be retried")
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}
	attempts := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (map[string]any, error) {
		attempts++
		return nil, &channels.ProviderError{Provider: "slack", Reason: channels.ReasonPostFailed}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}
