// Package sqlite is the embedded single-file store used when no PostgreSQL
// URL is configured. It implements the same repository and transaction ports
// as the postgres adapter with identical ordering semantics.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type contextKey string

const txKey contextKey = "sqlite_tx"

// Store is a SQLite-backed ports.OptimizationRepository.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory if needed, applies pragmas and migrates.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS optimization_runs (
			id                 TEXT PRIMARY KEY,
			task_description   TEXT NOT NULL,
			status             TEXT NOT NULL,
			current_stage      TEXT,
			champion_prompt_id TEXT,
			total_tests_run    INTEGER NOT NULL DEFAULT 0,
			elapsed_seconds    REAL NOT NULL DEFAULT 0,
			error_message      TEXT,
			started_at         TEXT NOT NULL,
			completed_at       TEXT,
			updated_at         TEXT NOT NULL,
			convergence_threshold    REAL NOT NULL DEFAULT 0,
			early_stopping_patience  INTEGER NOT NULL DEFAULT 0,
			max_iterations_per_track INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS prompt_candidates (
			seq                       INTEGER PRIMARY KEY AUTOINCREMENT,
			id                        TEXT NOT NULL UNIQUE,
			run_id                    TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
			prompt_text               TEXT NOT NULL,
			stage                     TEXT NOT NULL,
			stage_rank                INTEGER NOT NULL,
			strategy                  TEXT,
			quick_score               REAL,
			rigorous_score            REAL,
			average_score             REAL,
			iteration                 INTEGER NOT NULL DEFAULT 0,
			track_id                  INTEGER,
			parent_prompt_id          TEXT,
			is_original_system_prompt INTEGER NOT NULL DEFAULT 0,
			created_at                TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_prompt_candidates_run_stage ON prompt_candidates (run_id, stage);
		CREATE INDEX IF NOT EXISTS idx_prompt_candidates_run_track ON prompt_candidates (run_id, track_id, iteration);

		CREATE TABLE IF NOT EXISTS test_cases (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			label             TEXT,
			run_id            TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
			input_message     TEXT NOT NULL,
			expected_behavior TEXT NOT NULL,
			category          TEXT NOT NULL,
			stage             TEXT NOT NULL,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_test_cases_run_stage ON test_cases (run_id, stage);

		CREATE TABLE IF NOT EXISTS evaluations (
			seq                INTEGER PRIMARY KEY AUTOINCREMENT,
			id                 TEXT NOT NULL UNIQUE,
			run_id             TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
			prompt_id          TEXT NOT NULL REFERENCES prompt_candidates(id) ON DELETE CASCADE,
			test_case_id       TEXT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
			test_label         TEXT,
			model_response     TEXT NOT NULL,
			functionality      INTEGER NOT NULL,
			safety             INTEGER NOT NULL,
			consistency        INTEGER NOT NULL,
			edge_case_handling INTEGER NOT NULL,
			reasoning          TEXT NOT NULL,
			overall            REAL NOT NULL,
			created_at         TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_evaluations_prompt ON evaluations (prompt_id);
		CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations (run_id);

		CREATE TABLE IF NOT EXISTS weakness_analyses (
			seq                      INTEGER PRIMARY KEY AUTOINCREMENT,
			id                       TEXT NOT NULL UNIQUE,
			run_id                   TEXT NOT NULL REFERENCES optimization_runs(id) ON DELETE CASCADE,
			prompt_id                TEXT NOT NULL REFERENCES prompt_candidates(id) ON DELETE CASCADE,
			track_id                 INTEGER NOT NULL,
			iteration                INTEGER NOT NULL,
			description              TEXT NOT NULL,
			failed_test_ids          TEXT NOT NULL DEFAULT '[]',
			failed_test_descriptions TEXT NOT NULL DEFAULT '[]',
			created_at               TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_weakness_run_track ON weakness_analyses (run_id, track_id, iteration);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addMissingColumns("optimization_runs", runSettingColumns)
}

// runSettingColumns are added to run tables created before runs recorded
// their refinement settings.
var runSettingColumns = map[string]string{
	"convergence_threshold":    "REAL NOT NULL DEFAULT 0",
	"early_stopping_patience":  "INTEGER NOT NULL DEFAULT 0",
	"max_iterations_per_track": "INTEGER NOT NULL DEFAULT 0",
}

func (s *Store) addMissingColumns(table string, columns map[string]string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for name, def := range columns {
		if existing[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, def)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloatPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
