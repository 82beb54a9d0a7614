// Command seed loads a demo organization into the database: one flow with
// Slack and email steps plus a connected Slack provider, enough to exercise
// the scheduler end to end.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"vex-flows/backend/internal/config"
	"vex-flows/backend/internal/logging"
	"vex-flows/backend/internal/repository"
	"vex-flows/backend/pkg/models"
)

const demoOrg = "1"

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.NewLogger(cfg)

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	if err := repository.InitSchema(ctx, pool); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}

	store := repository.NewPostgresStore(pool)

	existing, err := store.ListFlows(ctx, demoOrg)
	if err != nil {
		log.Fatalf("Failed to list existing flows: %v", err)
	}
	existingNames := make(map[string]bool)
	for _, f := range existing {
		existingNames[f.Name] = true
	}

	flows := []struct {
		Name    string
		Trigger string
		Steps   []models.FlowStep
	}{
		{
			Name:    "Deal created follow-up",
			Trigger: "crm.deal.created",
			Steps: []models.FlowStep{
				{Position: 1, Type: models.StepSlackPost, Config: map[string]any{
					"template": "Nuevo deal: *{{deal.name}}* ({{deal.owner}})",
				}},
				{Position: 2, Type: models.StepEmailSend, Config: map[string]any{
					"to":      "{{deal.owner_email}}",
					"subject": "Nuevo deal: {{deal.name}}",
					"text":    "Se creó el deal {{deal.name}}. Hacé el primer contacto hoy.",
				}},
			},
		},
		{
			Name:    "Low stock alert",
			Trigger: "stock.product.low",
			Steps: []models.FlowStep{
				{Position: 1, Type: models.StepSlackPost, Config: map[string]any{
					"template": "Reponer {{product.sku}}: quedan {{product.qty}}",
				}},
			},
		},
	}

	for _, seed := range flows {
		if existingNames[seed.Name] {
			logger.WithField("flow", seed.Name).Info("flow already seeded, skipping")
			continue
		}
		flow := &models.Flow{
			OrganizationID: demoOrg,
			Name:           seed.Name,
			Trigger:        seed.Trigger,
			Active:         true,
		}
		if err := store.CreateFlow(ctx, flow); err != nil {
			log.Fatalf("Failed to create flow %q: %v", seed.Name, err)
		}
		for _, step := range seed.Steps {
			step.FlowID = flow.ID
			step.OrganizationID = demoOrg
			if err := store.CreateStep(ctx, &step); err != nil {
				log.Fatalf("Failed to create step for %q: %v", seed.Name, err)
			}
		}
		logger.WithFields(logrus.Fields{"flow": seed.Name, "id": flow.ID}).Info("seeded flow")
	}

	webhook := cfg.Channels.Slack.WebhookURL
	if webhook == "" {
		webhook = "https://hooks.slack.com/services/DEMO/DEMO/demo"
	}
	provider := &models.Provider{
		OrganizationID: demoOrg,
		ProviderID:     models.ProviderSlack,
		Status:         models.ProviderStatusConnected,
		Credentials:    map[string]any{"webhook_url": webhook},
	}
	if err := store.UpsertProvider(ctx, provider); err != nil {
		log.Fatalf("Failed to connect slack provider: %v", err)
	}
	logger.Info("demo slack provider connected")
	logger.Info("seed complete")
}
