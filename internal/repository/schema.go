package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS flows (
		id BIGSERIAL PRIMARY KEY,
		organizacion_id TEXT NOT NULL,
		name TEXT NOT NULL,
		trigger TEXT NOT NULL,
		active BOOLEAN DEFAULT TRUE,
		meta JSONB DEFAULT '{}'::jsonb,
		created_by TEXT,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS flow_steps (
		id BIGSERIAL PRIMARY KEY,
		flow_id BIGINT REFERENCES flows(id) ON DELETE CASCADE,
		organizacion_id TEXT NOT NULL,
		position INT NOT NULL,
		type TEXT NOT NULL,
		config JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS flow_runs (
		id BIGSERIAL PRIMARY KEY,
		flow_id BIGINT REFERENCES flows(id) ON DELETE SET NULL,
		organizacion_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		started_at TIMESTAMPTZ DEFAULT now(),
		finished_at TIMESTAMPTZ,
		meta JSONB DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS flow_providers (
		id BIGSERIAL PRIMARY KEY,
		organizacion_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		credentials JSONB DEFAULT '{}'::jsonb,
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		id BIGSERIAL PRIMARY KEY,
		organizacion_id TEXT NOT NULL,
		flow_id BIGINT REFERENCES flows(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		schedule TEXT,
		active BOOLEAN DEFAULT TRUE,
		config JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		organizacion_id TEXT NOT NULL,
		flow_id BIGINT REFERENCES flows(id) ON DELETE SET NULL,
		channel TEXT NOT NULL,
		recipient TEXT,
		subject TEXT,
		body TEXT,
		status TEXT DEFAULT 'draft',
		meta JSONB DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ DEFAULT now(),
		updated_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS flow_providers_org_provider_idx
		ON flow_providers(organizacion_id, provider_id)`,
	`CREATE INDEX IF NOT EXISTS flow_runs_org_idx
		ON flow_runs(organizacion_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS flow_runs_claim_idx
		ON flow_runs(status, started_at, id)`,
	`CREATE INDEX IF NOT EXISTS flow_steps_flow_idx
		ON flow_steps(flow_id, position)`,
}

// InitSchema creates the tables and indexes if they do not exist yet. All
// statements run in one transaction so a partially applied schema never
// survives a failure.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
