package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent. seq gives rows inserted in the same instant a stable order.
const schema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	id                 TEXT PRIMARY KEY,
	task_description   TEXT NOT NULL,
	status             TEXT NOT NULL,
	current_stage      TEXT,
	champion_prompt_id TEXT,
	total_tests_run    INTEGER NOT NULL DEFAULT 0,
	elapsed_seconds    DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message      TEXT,
	started_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL
);

ALTER TABLE optimization_runs ADD COLUMN IF NOT EXISTS convergence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0;
ALTER TABLE optimization_runs ADD COLUMN IF NOT EXISTS early_stopping_patience INTEGER NOT NULL DEFAULT 0;
ALTER TABLE optimization_runs ADD COLUMN IF NOT EXISTS max_iterations_per_track INTEGER NOT NULL DEFAULT 0;

CREATE INDEX IF NOT EXISTS idx_optimization_runs_started ON optimization_runs (started_at DESC);

CREATE TABLE IF NOT EXISTS prompt_candidates (
	seq                       BIGSERIAL UNIQUE,
	id                        TEXT PRIMARY KEY,
	run_id                    TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
	prompt_text               TEXT NOT NULL,
	stage                     TEXT NOT NULL,
	stage_rank                SMALLINT NOT NULL,
	strategy                  TEXT,
	quick_score               DOUBLE PRECISION,
	rigorous_score            DOUBLE PRECISION,
	average_score             DOUBLE PRECISION,
	iteration                 INTEGER NOT NULL DEFAULT 0,
	track_id                  INTEGER,
	parent_prompt_id          TEXT,
	is_original_system_prompt BOOLEAN NOT NULL DEFAULT FALSE,
	created_at                TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompt_candidates_run_stage ON prompt_candidates (run_id, stage);
CREATE INDEX IF NOT EXISTS idx_prompt_candidates_run_track ON prompt_candidates (run_id, track_id, iteration);

CREATE TABLE IF NOT EXISTS test_cases (
	seq               BIGSERIAL UNIQUE,
	id                TEXT PRIMARY KEY,
	label             TEXT,
	run_id            TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
	input_message     TEXT NOT NULL,
	expected_behavior TEXT NOT NULL,
	category          TEXT NOT NULL,
	stage             TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_cases_run_stage ON test_cases (run_id, stage);

CREATE TABLE IF NOT EXISTS evaluations (
	seq                 BIGSERIAL UNIQUE,
	id                  TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
	prompt_id           TEXT NOT NULL REFERENCES prompt_candidates(id) ON DELETE CASCADE,
	test_case_id        TEXT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
	test_label          TEXT,
	model_response      TEXT NOT NULL,
	functionality       SMALLINT NOT NULL,
	safety              SMALLINT NOT NULL,
	consistency         SMALLINT NOT NULL,
	edge_case_handling  SMALLINT NOT NULL,
	reasoning           TEXT NOT NULL,
	overall             DOUBLE PRECISION NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_prompt ON evaluations (prompt_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations (run_id);

CREATE TABLE IF NOT EXISTS weakness_analyses (
	seq                      BIGSERIAL UNIQUE,
	id                       TEXT PRIMARY KEY,
	run_id                   TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
	prompt_id                TEXT NOT NULL REFERENCES prompt_candidates(id) ON DELETE CASCADE,
	track_id                 INTEGER NOT NULL,
	iteration                INTEGER NOT NULL,
	description              TEXT NOT NULL,
	failed_test_ids          JSONB NOT NULL DEFAULT '[]',
	failed_test_descriptions JSONB NOT NULL DEFAULT '[]',
	created_at               TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_weakness_run_track ON weakness_analyses (run_id, track_id, iteration);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, db querier) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
