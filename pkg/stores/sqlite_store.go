package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/siteforge/siteforge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore records run history using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new store instance for the given database path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database, enables WAL mode, and applies migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordRun implements engine.Recorder: the run row and its step results are
// written in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, workflow, resource, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID, report.Workflow, report.Resource, string(report.Status),
		report.StartedAt, report.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, step := range report.Steps {
		var errText *string
		if step.Err != nil {
			msg := step.Err.Error()
			errText = &msg
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_results (run_id, position, name, status, detail, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.ID, i, step.Name, string(step.Status), step.Detail, errText,
			step.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result: %w", err)
		}
	}

	return tx.Commit()
}

// RecordWorkerAction records whether a deployment started or restarted the
// site's background worker.
func (s *SQLiteStore) RecordWorkerAction(ctx context.Context, site, action string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_actions (site, action, recorded_at) VALUES (?, ?, ?)`,
		site, action, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record worker action: %w", err)
	}
	return nil
}

// LastWorkerAction returns the most recent worker action for a site, or ""
// when no deployment has touched the worker yet.
func (s *SQLiteStore) LastWorkerAction(ctx context.Context, site string) (string, error) {
	var action string
	err := s.db.QueryRowContext(ctx, `
		SELECT action FROM worker_actions WHERE site = ?
		ORDER BY id DESC LIMIT 1`, site,
	).Scan(&action)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query worker action: %w", err)
	}
	return action, nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID          string    `json:"id"`
	Workflow    string    `json:"workflow"`
	Resource    string    `json:"resource,omitempty"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow, resource, status, started_at, completed_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Workflow, &r.Resource, &r.Status, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StepRow is one recorded step outcome.
type StepRow struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// GetRunSteps returns the recorded step outcomes for a run in order.
func (s *SQLiteStore) GetRunSteps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, status, detail, error, duration_ms
		FROM step_results WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	var steps []StepRow
	for rows.Next() {
		var (
			row        StepRow
			errText    sql.NullString
			durationMs int64
		)
		if err := rows.Scan(&row.Name, &row.Status, &row.Detail, &errText, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		if errText.Valid {
			row.Error = errText.String
		}
		row.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, row)
	}
	return steps, rows.Err()
}
