package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// bootstrapStatements is the DDL run at startup. Schema creation comes
// first: no table may land in the default unnamed schema, and the litellm
// schema must exist before the gateway's own migrations run against it.
var bootstrapStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS aria_data`,
	`CREATE SCHEMA IF NOT EXISTS aria_engine`,
	`CREATE SCHEMA IF NOT EXISTS litellm`,

	`CREATE TABLE IF NOT EXISTS aria_engine.sessions (
		id            TEXT PRIMARY KEY,
		agent_id      TEXT NOT NULL,
		key           TEXT NOT NULL,
		session_type  TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		title         TEXT NOT NULL DEFAULT '',
		ended_at      TIMESTAMPTZ,
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens  INTEGER NOT NULL DEFAULT 0,
		total_cost    BIGINT NOT NULL DEFAULT 0,
		metadata      JSONB,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_key_idx ON aria_engine.sessions (key, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS sessions_agent_idx ON aria_engine.sessions (agent_id, status)`,

	`CREATE TABLE IF NOT EXISTS aria_engine.messages (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL REFERENCES aria_engine.sessions(id) ON DELETE CASCADE,
		role          TEXT NOT NULL,
		content       TEXT NOT NULL DEFAULT '',
		thinking      TEXT NOT NULL DEFAULT '',
		tool_calls    JSONB,
		tool_results  JSONB,
		model         TEXT NOT NULL DEFAULT '',
		tokens_input  INTEGER NOT NULL DEFAULT 0,
		tokens_output INTEGER NOT NULL DEFAULT 0,
		cost          BIGINT NOT NULL DEFAULT 0,
		latency_ms    BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_session_idx ON aria_engine.messages (session_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS aria_engine.agents (
		agent_id             TEXT PRIMARY KEY,
		agent_type           TEXT NOT NULL,
		model                TEXT NOT NULL DEFAULT '',
		fallback_model       TEXT NOT NULL DEFAULT '',
		system_prompt        TEXT NOT NULL DEFAULT '',
		status               TEXT NOT NULL,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		pheromone_score      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		timeout_seconds      INTEGER NOT NULL DEFAULT 0,
		last_active_at       TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS agents_type_idx ON aria_engine.agents (agent_type, status)`,

	`CREATE TABLE IF NOT EXISTS aria_engine.cron_jobs (
		job_id               TEXT PRIMARY KEY,
		name                 TEXT NOT NULL DEFAULT '',
		action               TEXT NOT NULL,
		schedule_expression  TEXT NOT NULL,
		enabled              BOOLEAN NOT NULL DEFAULT TRUE,
		session_target       TEXT NOT NULL DEFAULT 'shared',
		max_duration_seconds INTEGER NOT NULL DEFAULT 0,
		params               JSONB,
		next_run_at          TIMESTAMPTZ,
		last_run_at          TIMESTAMPTZ,
		last_status          TEXT NOT NULL DEFAULT '',
		last_duration_ms     BIGINT NOT NULL DEFAULT 0,
		run_count            INTEGER NOT NULL DEFAULT 0,
		success_count        INTEGER NOT NULL DEFAULT 0,
		fail_count           INTEGER NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS cron_jobs_due_idx ON aria_engine.cron_jobs (enabled, next_run_at)`,

	`CREATE TABLE IF NOT EXISTS aria_data.goals (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority    INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS goals_status_idx ON aria_data.goals (status, priority DESC, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS aria_data.activity_log (
		id            BIGSERIAL PRIMARY KEY,
		action        TEXT NOT NULL,
		skill         TEXT NOT NULL DEFAULT '',
		details       JSONB,
		success       BOOLEAN NOT NULL DEFAULT TRUE,
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS activity_log_created_idx ON aria_data.activity_log (created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS aria_data.heartbeats (
		beat_number BIGINT PRIMARY KEY,
		job_name    TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		details     JSONB,
		executed_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
}

// Bootstrap creates the three schemas and all core tables. Idempotent.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	logger := slog.Default().With("component", "storage")
	for _, stmt := range bootstrapStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap ddl: %w", err)
		}
	}
	logger.Info("schema bootstrap complete", "statements", len(bootstrapStatements))
	return nil
}
