// Package services holds the business logic between the HTTP surface and the
// store: flow execution, event ingestion and the retry policy.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/internal/template"
	"vex-flows/backend/pkg/models"
)

// Run failure reasons recorded on flow_runs.error.
const (
	ErrFlowNotFound      = "flow_not_found"
	ErrSlackNotConnected = "slack_not_connected"
)

// Executor drives a claimed run through its flow's ordered steps and records
// the terminal status. Execute never leaves a run in running state and never
// propagates step failures to the caller; the scheduler loop treats it as
// infallible.
type Executor struct {
	store         repository.Store
	dispatcher    channels.Dispatcher
	retry         RetryPolicy
	fallbackSlack string
	log           *logrus.Entry
}

// NewExecutor creates an Executor. fallbackSlackWebhook is the process-wide
// webhook used when an organization has no connected Slack provider; empty
// disables the fallback.
func NewExecutor(store repository.Store, dispatcher channels.Dispatcher, retry RetryPolicy, fallbackSlackWebhook string, logger *logrus.Logger) *Executor {
	return &Executor{
		store:         store,
		dispatcher:    dispatcher,
		retry:         retry,
		fallbackSlack: fallbackSlackWebhook,
		log:           logger.WithField("component", "executor"),
	}
}

// Execute runs one claimed flow run to a terminal status. Steps execute
// strictly in position order; the first failure aborts the remainder and
// settles the run as error. Steps already dispatched are not undone.
func (e *Executor) Execute(ctx context.Context, run *models.FlowRun) {
	log := e.log.WithFields(logrus.Fields{"run_id": run.ID, "org_id": run.OrganizationID})

	if run.FlowID == nil {
		e.fail(ctx, log, run, ErrFlowNotFound)
		return
	}

	flow, err := e.store.GetFlow(ctx, run.OrganizationID, *run.FlowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.fail(ctx, log, run, ErrFlowNotFound)
		} else {
			e.fail(ctx, log, run, fmt.Sprintf("load flow: %v", err))
		}
		return
	}

	steps, err := e.store.ListSteps(ctx, run.OrganizationID, flow.ID)
	if err != nil {
		e.fail(ctx, log, run, fmt.Sprintf("load steps: %v", err))
		return
	}

	payload := run.Payload()
	for _, step := range steps {
		action, err := models.ParseStepAction(step)
		if err != nil {
			e.fail(ctx, log.WithField("step_type", step.Type), run, err.Error())
			return
		}
		if err := e.runStep(ctx, run, flow, step, action, payload); err != nil {
			e.fail(ctx, log.WithField("position", step.Position), run, err.Error())
			return
		}
	}

	if err := e.store.CompleteRun(ctx, run.ID, models.RunStatusOK, ""); err != nil {
		log.WithError(err).Error("failed to settle run as ok")
		return
	}
	log.WithField("steps", len(steps)).Info("run completed")
}

func (e *Executor) fail(ctx context.Context, log *logrus.Entry, run *models.FlowRun, reason string) {
	if err := e.store.CompleteRun(ctx, run.ID, models.RunStatusError, reason); err != nil {
		log.WithError(err).Error("failed to settle run as error")
		return
	}
	log.WithField("reason", reason).Warn("run failed")
}

// runStep renders the action against the run payload and dispatches it.
// Channel sends go through the retry policy; validation and unsupported-step
// failures are permanent.
func (e *Executor) runStep(ctx context.Context, run *models.FlowRun, flow *models.Flow, step *models.FlowStep, action models.StepAction, payload map[string]any) error {
	switch a := action.(type) {
	case models.SlackPost:
		webhook, err := e.ResolveSlackWebhook(ctx, run.OrganizationID)
		if err != nil {
			return err
		}
		text := template.Render(a.Template, payload)
		return e.audit(ctx, run, flow, models.Message{
			Channel: models.ProviderSlack,
			Body:    text,
		}, func(ctx context.Context) (map[string]any, error) {
			receipt, err := e.dispatcher.SendSlack(ctx, channels.SlackMessage{Webhook: webhook, Text: text})
			if err != nil {
				return nil, err
			}
			return map[string]any{"status_code": receipt.Status}, nil
		})

	case models.WhatsAppSend:
		to := template.Render(a.To, payload)
		message := template.Render(a.Template, payload)
		return e.audit(ctx, run, flow, models.Message{
			Channel:   models.ProviderWhatsApp,
			Recipient: to,
			Body:      message,
		}, func(ctx context.Context) (map[string]any, error) {
			receipt, err := e.dispatcher.SendWhatsApp(ctx, channels.WhatsAppMessage{To: to, Message: message})
			if err != nil {
				return nil, err
			}
			return map[string]any{"status_code": receipt.Status, "mock": receipt.Mock}, nil
		})

	case models.EmailSend:
		to := template.Render(a.To, payload)
		subject := template.Render(a.Subject, payload)
		text := template.Render(a.Text, payload)
		return e.audit(ctx, run, flow, models.Message{
			Channel:   models.ProviderEmail,
			Recipient: to,
			Subject:   subject,
			Body:      text,
		}, func(ctx context.Context) (map[string]any, error) {
			receipt, err := e.dispatcher.SendEmail(ctx, channels.EmailMessage{To: to, Subject: subject, Text: text})
			if err != nil {
				return nil, err
			}
			return map[string]any{"message_id": receipt.MessageID}, nil
		})

	case models.TaskCreate:
		// Acknowledged without effect: task creation belongs to the CRM
		// collaborator, not this service.
		e.log.WithFields(logrus.Fields{"run_id": run.ID, "position": step.Position}).Debug("task.create step acknowledged")
		return nil
	}

	// Unreachable while ParseStepAction covers the full variant set.
	return &models.UnsupportedStepError{Type: step.Type}
}

// audit wraps a dispatch in a message audit row: inserted as queued before
// the attempt, settled to sent or failed after it.
func (e *Executor) audit(ctx context.Context, run *models.FlowRun, flow *models.Flow, msg models.Message, send func(ctx context.Context) (map[string]any, error)) error {
	msg.OrganizationID = run.OrganizationID
	msg.FlowID = &flow.ID
	msg.Status = models.MessageStatusQueued
	msg.Meta = map[string]any{"run_id": run.ID}
	if err := e.store.InsertMessage(ctx, &msg); err != nil {
		// The audit log is best effort; a failed insert must not block the
		// notification itself.
		e.log.WithError(err).Warn("failed to insert message audit row")
	}

	meta, err := e.retry.Do(ctx, send)
	if msg.ID != 0 {
		status := models.MessageStatusSent
		if err != nil {
			status = models.MessageStatusFailed
			meta = map[string]any{"run_id": run.ID, "error": err.Error()}
		} else if meta != nil {
			meta["run_id"] = run.ID
		}
		if uerr := e.store.UpdateMessageStatus(ctx, msg.ID, status, meta); uerr != nil {
			e.log.WithError(uerr).Warn("failed to settle message audit row")
		}
	}
	return err
}

// ResolveSlackWebhook finds the Slack webhook for an organization: the
// connected provider record first, the configured process-wide fallback
// second. No webhook at all fails with slack_not_connected.
func (e *Executor) ResolveSlackWebhook(ctx context.Context, orgID string) (string, error) {
	provider, err := e.store.GetProvider(ctx, orgID, models.ProviderSlack)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("resolve slack provider: %w", err)
	}
	if url := provider.WebhookURL(); url != "" {
		return url, nil
	}
	if e.fallbackSlack != "" {
		return e.fallbackSlack, nil
	}
	return "", errors.New(ErrSlackNotConnected)
}
