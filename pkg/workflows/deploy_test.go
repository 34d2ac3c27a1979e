package workflows

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/siteforge/siteforge/pkg/command"
	"github.com/siteforge/siteforge/pkg/engine"
	"github.com/siteforge/siteforge/pkg/stores"
)

const workerUnit = "siteforge-worker-shop.example.com.service"

// attachRunStore wires a real sqlite run-history store into the environment.
func attachRunStore(t *testing.T, env *Env) {
	t.Helper()
	store, err := stores.NewSQLiteStore(env.Config.Paths.StateDB)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	env.Store = store
}

// stubWorkerEnabled scripts whether systemd reports the worker unit enabled.
func stubWorkerEnabled(fake *command.FakeRunner, enabled bool) {
	code := 1
	if enabled {
		code = 0
	}
	fake.Stub("systemctl is-enabled --quiet "+workerUnit, command.Result{ExitCode: code})
}

// setupDeployEnv creates the site directory and a run-history store so
// deployments have their prerequisites on a host with no worker yet.
func setupDeployEnv(t *testing.T) (*Env, *command.FakeRunner) {
	t.Helper()

	env, fake := setupTestEnv(t, newFakeDB())

	siteDir := filepath.Join(env.Config.Paths.WebRoot, "shop.example.com")
	if err := os.MkdirAll(siteDir, 0755); err != nil {
		t.Fatalf("failed to create site dir: %v", err)
	}

	attachRunStore(t, env)
	stubWorkerEnabled(fake, false)

	return env, fake
}

// TestDeployFirstRunStartsWorker tests the full sequence and the start action
func TestDeployFirstRunStartsWorker(t *testing.T) {
	env, fake := setupDeployEnv(t)
	ctx := context.Background()

	report, err := Deploy(ctx, env, "shop.example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != engine.RunSucceeded {
		t.Fatalf("expected status %s, got %s", engine.RunSucceeded, report.Status)
	}

	// The default branch was deployed.
	if fake.CallCount("sh -c cd") == 0 {
		t.Fatal("no shell steps ran")
	}
	if !fake.Called("sh -c cd " + filepath.Join(env.Config.Paths.WebRoot, "shop.example.com") +
		" && git fetch origin && git checkout main") {
		t.Errorf("fetch did not use the default branch: %v", fake.Calls)
	}

	// The shared runtime was reloaded and the lock released.
	if !fake.Called("systemctl reload php8.3-fpm") {
		t.Error("runtime was not reloaded")
	}
	if _, err := os.Stat(env.Config.Paths.ReloadLock); !os.IsNotExist(err) {
		t.Error("reload lock file was not released")
	}

	// First deployment starts the worker and records it.
	if !fake.Called("systemctl start siteforge-worker-shop.example.com.service") {
		t.Error("worker was not started on first deployment")
	}
	action, err := env.Store.LastWorkerAction(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("failed to query worker action: %v", err)
	}
	if action != "start" {
		t.Errorf("expected recorded action start, got %q", action)
	}
}

// TestDeployAfterRegistrationStartsWorker tests the normal site lifecycle:
// registration writes the inert unit, and the first deployment still takes
// the register-and-start path
func TestDeployAfterRegistrationStartsWorker(t *testing.T) {
	env, fake := setupTestEnv(t, newFakeDB())
	attachRunStore(t, env)
	stubWorkerEnabled(fake, false)
	ctx := context.Background()

	if _, err := RegisterSite(ctx, env, "shop.example.com"); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.Config.Paths.UnitDir, workerUnit)); err != nil {
		t.Fatalf("registration did not write the unit file: %v", err)
	}

	report, err := Deploy(ctx, env, "shop.example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != engine.RunSucceeded {
		t.Fatalf("expected status %s, got %s", engine.RunSucceeded, report.Status)
	}

	// The unit file written at registration must not masquerade as a
	// supervised worker: the first deployment registers and starts it.
	if !fake.Called("systemctl daemon-reload") {
		t.Error("worker unit was never registered via daemon-reload")
	}
	if !fake.Called("systemctl enable " + workerUnit) {
		t.Error("worker unit was never enabled")
	}
	if !fake.Called("systemctl start " + workerUnit) {
		t.Error("first deployment did not start the worker")
	}
	if fake.Called("systemctl restart " + workerUnit) {
		t.Error("first deployment restarted a worker that was never started")
	}

	action, err := env.Store.LastWorkerAction(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("failed to query worker action: %v", err)
	}
	if action != "start" {
		t.Errorf("recorded worker action = %q, want start", action)
	}
}

// TestDeploySecondRunRestartsWorker tests the restart action on later deploys
func TestDeploySecondRunRestartsWorker(t *testing.T) {
	env, fake := setupDeployEnv(t)
	ctx := context.Background()

	if _, err := Deploy(ctx, env, "shop.example.com", ""); err != nil {
		t.Fatalf("first deploy failed: %v", err)
	}

	// The first deployment enabled the unit; systemd reports it from now on.
	stubWorkerEnabled(fake, true)

	if _, err := Deploy(ctx, env, "shop.example.com", ""); err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}

	if !fake.Called("systemctl restart siteforge-worker-shop.example.com.service") {
		t.Error("worker was not restarted on the second deployment")
	}

	action, err := env.Store.LastWorkerAction(ctx, "shop.example.com")
	if err != nil {
		t.Fatalf("failed to query worker action: %v", err)
	}
	if action != "restart" {
		t.Errorf("expected recorded action restart, got %q", action)
	}
}

// TestDeployBranchOverride tests the branch argument
func TestDeployBranchOverride(t *testing.T) {
	env, fake := setupDeployEnv(t)

	if _, err := Deploy(context.Background(), env, "shop.example.com", "release/2.4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, call := range fake.Calls {
		if strings.Contains(call, "release/2.4") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("requested branch never used: %v", fake.Calls)
	}
}

// TestDeployStepFailureAborts tests exit-code propagation and the abort
func TestDeployStepFailureAborts(t *testing.T) {
	env, fake := setupDeployEnv(t)
	siteDir := filepath.Join(env.Config.Paths.WebRoot, "shop.example.com")

	fake.Stub("sh -c cd "+siteDir+" && "+env.Config.Deploy.Migrate,
		command.Result{ExitCode: 9, Stderr: "migration table locked"})

	report, err := Deploy(context.Background(), env, "shop.example.com", "")
	if err == nil {
		t.Fatal("expected an error")
	}

	var exitErr *command.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected a command exit error, got %v", err)
	}
	if exitErr.ExitCode() != 9 {
		t.Errorf("expected exit code 9, got %d", exitErr.ExitCode())
	}
	if report.Status != engine.RunAborted {
		t.Errorf("expected status %s, got %s", engine.RunAborted, report.Status)
	}

	// Steps after the failure never ran.
	if fake.Called("sh -c cd " + siteDir + " && " + env.Config.Deploy.InvalidateCaches) {
		t.Error("cache invalidation ran after the migration failure")
	}
	if fake.Called("systemctl start siteforge-worker") {
		t.Error("worker supervision ran after the migration failure")
	}
}

// TestDeployMissingSiteIsPrereqError tests deploying an unregistered site
func TestDeployMissingSiteIsPrereqError(t *testing.T) {
	env, _ := setupTestEnv(t, newFakeDB())

	_, err := Deploy(context.Background(), env, "ghost.example.com", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !engine.IsPrereqMissing(err) {
		t.Errorf("expected a prereq-missing error, got %v", err)
	}
}

// TestDeployLockTimeout tests that a held reload lock aborts the deployment
func TestDeployLockTimeout(t *testing.T) {
	env, fake := setupDeployEnv(t)
	env.Config.ReloadLockTimeout = 1 // effectively immediate

	// Simulate another deployment holding the lock.
	if err := os.WriteFile(env.Config.Paths.ReloadLock, []byte("pid=1\n"), 0644); err != nil {
		t.Fatalf("failed to plant lock file: %v", err)
	}

	report, err := Deploy(context.Background(), env, "shop.example.com", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !engine.IsLockTimeout(err) {
		t.Fatalf("expected a lock-timeout error, got %v", err)
	}
	if report.Status != engine.RunAborted {
		t.Errorf("expected status %s, got %s", engine.RunAborted, report.Status)
	}
	if fake.Called("systemctl reload php8.3-fpm") {
		t.Error("runtime reloaded without holding the lock")
	}
}
