package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/siteforge/siteforge/pkg/engine"
)

// setupTestStore creates a file-backed SQLite store in a temp directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testReport() *engine.RunReport {
	now := time.Now().UTC().Truncate(time.Second)
	return &engine.RunReport{
		ID:       uuid.NewString(),
		Workflow: "site-register",
		Resource: "shop.example.com",
		Status:   engine.RunSucceeded,
		Steps: []engine.StepResult{
			{Name: "docroot", Status: engine.StepApplied, Duration: 12 * time.Millisecond},
			{Name: "database", Status: engine.StepSatisfied, Detail: "already satisfied"},
		},
		StartedAt:   now,
		CompletedAt: now.Add(time.Second),
	}
}

// TestStoreMigrations tests that the schema tables exist after Init
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "step_results", "worker_actions"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRecordRunRoundtrip tests the run report write and read paths
func TestRecordRunRoundtrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	report := testReport()

	if err := store.RecordRun(ctx, report); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != report.ID {
		t.Errorf("expected ID %s, got %s", report.ID, runs[0].ID)
	}
	if runs[0].Status != string(engine.RunSucceeded) {
		t.Errorf("expected status %s, got %s", engine.RunSucceeded, runs[0].Status)
	}

	steps, err := store.GetRunSteps(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get run steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Name != "docroot" || steps[1].Name != "database" {
		t.Errorf("steps out of order: %v", steps)
	}
	if steps[1].Detail != "already satisfied" {
		t.Errorf("step detail lost: %q", steps[1].Detail)
	}
}

// TestRecordRunWithError tests that a step error message is persisted
func TestRecordRunWithError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	report := testReport()
	report.Status = engine.RunAborted
	report.Steps = []engine.StepResult{
		{
			Name:   "vhost",
			Status: engine.StepRolledBack,
			Detail: "apply failed, side effect undone",
			Err:    engine.NewApplyFailedError("vhost validation failed", nil),
		},
	}

	if err := store.RecordRun(ctx, report); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	steps, err := store.GetRunSteps(ctx, report.ID)
	if err != nil {
		t.Fatalf("failed to get run steps: %v", err)
	}
	if steps[0].Error == "" {
		t.Error("step error message was not persisted")
	}
}

// TestListRunsOrderAndLimit tests newest-first ordering and the limit
func TestListRunsOrderAndLimit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		report := testReport()
		report.StartedAt = base.Add(time.Duration(i) * time.Minute)
		report.CompletedAt = report.StartedAt.Add(time.Second)
		if err := store.RecordRun(ctx, report); err != nil {
			t.Fatalf("failed to record run %d: %v", i, err)
		}
	}

	runs, err := store.ListRuns(ctx, 3)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Error("runs are not newest-first")
		}
	}
}

// TestWorkerActions tests the start/restart history
func TestWorkerActions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	last, err := store.LastWorkerAction(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != "" {
		t.Errorf("expected no action before any deployment, got %q", last)
	}

	if err := store.RecordWorkerAction(ctx, "shop.example.com", "start"); err != nil {
		t.Fatalf("failed to record action: %v", err)
	}
	if err := store.RecordWorkerAction(ctx, "shop.example.com", "restart"); err != nil {
		t.Fatalf("failed to record action: %v", err)
	}

	last, err = store.LastWorkerAction(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != "restart" {
		t.Errorf("expected last action restart, got %q", last)
	}

	// Another site's history is independent.
	last, err = store.LastWorkerAction(ctx, "other.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != "" {
		t.Errorf("expected no action for the other site, got %q", last)
	}
}
