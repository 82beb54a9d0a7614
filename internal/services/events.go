package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Jeffail/gabs/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/channels"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/pkg/models"
)

// Built-in event names with dedicated handlers.
const (
	EventDealBidSent  = "crm.deal.bid_sent"
	EventDealStalled  = "crm.deal.stalled"
	EventDealWon      = "crm.deal.won"
	EventStockLow     = "stock.product.low"
	EventOrderDelayed = "stock.order.delayed"
)

// Event is an inbound CRM/stock/webhook event.
type Event struct {
	Source  string         `json:"source"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// IngestResult reports what an event produced: the active flows whose
// trigger key matched and the run records created for them, plus whether a
// built-in handler fired.
type IngestResult struct {
	Event        string  `json:"event"`
	Source       string  `json:"source"`
	Handled      bool    `json:"handled"`
	MatchedFlows []int64 `json:"matched_flows"`
	CreatedRuns  []int64 `json:"created_runs"`
}

// EventError is a validation failure on an inbound event.
type EventError struct {
	Field string
}

func (e *EventError) Error() string {
	return fmt.Sprintf("field %q is required", e.Field)
}

// EventService matches inbound events to flows and creates queued runs for
// the scheduler to pick up. A small set of built-in events additionally
// notifies Slack right away (crm.deal.bid_sent instead records a reminder
// run); that dual path comes from the source system and can double-notify
// when a flow listens on a built-in event name.
type EventService struct {
	store    repository.Store
	executor *Executor
	log      *logrus.Entry
}

// NewEventService creates an EventService. The executor is used for Slack
// webhook resolution in the built-in handlers.
func NewEventService(store repository.Store, executor *Executor, logger *logrus.Logger) *EventService {
	return &EventService{
		store:    store,
		executor: executor,
		log:      logger.WithField("component", "events"),
	}
}

// Emit handles a manual trigger emission: generic flow matching only, no
// built-in handlers.
func (s *EventService) Emit(ctx context.Context, orgID, event string, payload map[string]any) (*IngestResult, error) {
	if event == "" {
		return nil, &EventError{Field: "event"}
	}
	result := &IngestResult{
		Event:        event,
		MatchedFlows: []int64{},
		CreatedRuns:  []int64{},
	}
	if err := s.matchFlows(ctx, orgID, event, payload, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Ingest handles an inbound external event: generic flow matching plus the
// built-in handlers for known CRM/stock events.
func (s *EventService) Ingest(ctx context.Context, orgID string, evt Event) (*IngestResult, error) {
	if evt.Event == "" {
		return nil, &EventError{Field: "event"}
	}
	if evt.Payload == nil {
		evt.Payload = map[string]any{}
	}
	result := &IngestResult{
		Event:        evt.Event,
		Source:       evt.Source,
		MatchedFlows: []int64{},
		CreatedRuns:  []int64{},
	}

	if err := s.matchFlows(ctx, orgID, evt.Event, evt.Payload, result); err != nil {
		return nil, err
	}
	s.runBuiltin(ctx, orgID, evt, result)
	return result, nil
}

// matchFlows creates one queued run per active flow listening on the event.
func (s *EventService) matchFlows(ctx context.Context, orgID, event string, payload map[string]any, result *IngestResult) error {
	flows, err := s.store.ListActiveFlowsByTrigger(ctx, orgID, event)
	if err != nil {
		return fmt.Errorf("match flows: %w", err)
	}

	for _, flow := range flows {
		result.MatchedFlows = append(result.MatchedFlows, flow.ID)
		run := &models.FlowRun{
			FlowID:         &flow.ID,
			OrganizationID: orgID,
			Status:         models.RunStatusQueued,
			Meta: map[string]any{
				models.RunMetaPayload: payload,
				models.RunMetaName:    flow.Name,
				models.RunMetaEvent:   event,
				models.RunMetaEventID: uuid.New().String(),
			},
		}
		if err := s.store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run for flow %d: %w", flow.ID, err)
		}
		result.CreatedRuns = append(result.CreatedRuns, run.ID)
	}
	return nil
}

// runBuiltin fires the dedicated handler for known events. Failures here are
// logged and swallowed: a broken Slack webhook must not reject the event.
func (s *EventService) runBuiltin(ctx context.Context, orgID string, evt Event, result *IngestResult) {
	payload := evt.Payload
	switch evt.Event {
	case EventDealStalled:
		deal := payloadString(payload, "deal.name", "deal_name", "Deal")
		owner := payloadString(payload, "deal.owner", "owner", "owner")
		s.notifySlack(ctx, orgID, fmt.Sprintf("⚠️ Deal estancado: *%s* (owner: %s)", deal, owner))
		s.recordHandled(ctx, orgID, "Deal stalled reminder", evt, result)
	case EventDealWon:
		deal := payloadString(payload, "deal.name", "deal_name", "Deal")
		s.notifySlack(ctx, orgID, fmt.Sprintf("🏁 Deal ganado: *%s*", deal))
		s.recordHandled(ctx, orgID, "Deal won thank-you", evt, result)
	case EventDealBidSent:
		// No immediate notification for this event. The follow-up cadence
		// has no delayed execution, so the reminder intent is recorded as
		// a pending run instead.
		deal := payloadString(payload, "deal.name", "deal_name", "Deal")
		s.recordScheduled(ctx, orgID, "Bid sent -> Slack reminders", deal, evt, result)
	case EventStockLow:
		sku := payloadString(payload, "product.sku", "sku", "SKU")
		qty := payloadString(payload, "product.qty", "qty", "?")
		s.notifySlack(ctx, orgID, fmt.Sprintf("📦 Stock bajo: %s (qty: %s)", sku, qty))
		s.recordHandled(ctx, orgID, "Low stock reminder", evt, result)
	case EventOrderDelayed:
		order := payloadString(payload, "order.id", "order_id", "order")
		s.notifySlack(ctx, orgID, fmt.Sprintf("⏳ Pedido atrasado: %s", order))
		s.recordHandled(ctx, orgID, "Order delayed reminder", evt, result)
	}
}

func (s *EventService) notifySlack(ctx context.Context, orgID, text string) {
	webhook, err := s.executor.ResolveSlackWebhook(ctx, orgID)
	if err != nil {
		s.log.WithField("org_id", orgID).Debug("no slack webhook for built-in notification")
		return
	}
	if _, err := s.executor.dispatcher.SendSlack(ctx, channels.SlackMessage{Webhook: webhook, Text: text}); err != nil {
		s.log.WithError(err).Warn("built-in slack notification failed")
	}
}

// recordHandled stores an already-settled run row so built-in handling shows
// up in the run history next to generic flow runs.
func (s *EventService) recordHandled(ctx context.Context, orgID, name string, evt Event, result *IngestResult) {
	result.Handled = true
	run := &models.FlowRun{
		OrganizationID: orgID,
		Status:         models.RunStatusOK,
		Meta: map[string]any{
			models.RunMetaPayload: evt.Payload,
			models.RunMetaName:    name,
			models.RunMetaEvent:   evt.Event,
			models.RunMetaEventID: uuid.New().String(),
		},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.log.WithError(err).Warn("failed to record built-in run")
		return
	}
	result.CreatedRuns = append(result.CreatedRuns, run.ID)
}

// recordScheduled stores a reminder cadence as a pending run. The claimer
// only picks up runs bound to a flow, so the row stays pending and records
// the schedule rather than executing it.
func (s *EventService) recordScheduled(ctx context.Context, orgID, name, deal string, evt Event, result *IngestResult) {
	result.Handled = true
	run := &models.FlowRun{
		OrganizationID: orgID,
		Status:         models.RunStatusPending,
		Meta: map[string]any{
			models.RunMetaPayload: evt.Payload,
			models.RunMetaName:    name,
			models.RunMetaEvent:   evt.Event,
			models.RunMetaEventID: uuid.New().String(),
			"deal":                deal,
		},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.log.WithError(err).Warn("failed to record reminder run")
		return
	}
	result.CreatedRuns = append(result.CreatedRuns, run.ID)
}

// payloadString resolves the first present key, walking one dotted level,
// and falls back to def. Scalar values are stringified either way, so a
// numeric qty or order id renders as its digits.
func payloadString(payload map[string]any, nested, flat, def string) string {
	if v := lookupPath(payload, nested); v != "" {
		return v
	}
	if v := lookupPath(payload, flat); v != "" {
		return v
	}
	return def
}

func lookupPath(payload map[string]any, path string) string {
	resolved := gabs.Wrap(payload).Path(path)
	if resolved == nil {
		return ""
	}
	switch v := resolved.Data().(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
