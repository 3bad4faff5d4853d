package pgstore

import "context"

// schema is the table set pgstore reads and writes. Migrate is a
// convenience for tests and small deployments; larger ones are expected
// to apply this (or their own migration-tool equivalent) out of band.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                 TEXT PRIMARY KEY,
	func_reference     TEXT NOT NULL,
	max_running_jobs   INT,
	misfire_grace_time DOUBLE PRECISION,
	metadata           JSONB,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id                 TEXT PRIMARY KEY,
	task_id            TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	trigger_kind       TEXT NOT NULL,
	trigger_state      JSONB NOT NULL,
	args               JSONB,
	kwargs             JSONB,
	paused             BOOLEAN NOT NULL DEFAULT FALSE,
	coalesce_policy    TEXT NOT NULL,
	misfire_grace_time DOUBLE PRECISION,
	max_jitter         DOUBLE PRECISION,
	next_fire_time     TIMESTAMPTZ,
	last_fire_time     TIMESTAMPTZ,
	acquired_by        TEXT,
	acquired_until     TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS schedules_due_idx ON schedules (next_fire_time) WHERE NOT paused;

CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	task_id             TEXT NOT NULL,
	schedule_id         TEXT REFERENCES schedules(id) ON DELETE SET NULL,
	scheduled_fire_time TIMESTAMPTZ NOT NULL,
	jitter_seconds      DOUBLE PRECISION NOT NULL DEFAULT 0,
	start_deadline      TIMESTAMPTZ,
	tags                TEXT[],
	args                JSONB,
	kwargs              JSONB,
	created_at          TIMESTAMPTZ NOT NULL,
	started_at          TIMESTAMPTZ,
	acquired_by         TEXT,
	acquired_until      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_due_idx ON jobs (scheduled_fire_time);

CREATE TABLE IF NOT EXISTS job_results (
	job_id       TEXT PRIMARY KEY,
	outcome      TEXT NOT NULL,
	return_value JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS job_results_expiry_idx ON job_results (expires_at);
`

// Migrate applies the store's schema, creating tables and indexes that
// don't already exist. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
