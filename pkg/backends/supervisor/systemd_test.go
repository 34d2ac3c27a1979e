package supervisor

import (
	"context"
	"strings"
	"testing"

	"github.com/siteforge/siteforge/pkg/command"
)

func testSpec() UnitSpec {
	return UnitSpec{
		Site:       "shop.example.com",
		Command:    "/usr/bin/php artisan queue:work",
		WorkingDir: "/var/www/shop.example.com",
		User:       "www-data",
	}
}

func setupTestSystemd(t *testing.T) (*Systemd, *command.FakeRunner) {
	t.Helper()
	fake := command.NewFakeRunner()
	return New(fake, t.TempDir()), fake
}

const testUnit = "siteforge-worker-shop.example.com.service"

// stubUnitEnabled scripts systemd's view of the unit: enabled or unknown.
func stubUnitEnabled(fake *command.FakeRunner, enabled bool) {
	code := 1
	if enabled {
		code = 0
	}
	fake.Stub("systemctl is-enabled --quiet "+testUnit, command.Result{ExitCode: code})
}

// TestRenderDefaults tests the rendered unit and its default stop settings
func TestRenderDefaults(t *testing.T) {
	systemd, _ := setupTestSystemd(t)

	content, err := systemd.Render(testSpec())
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}

	rendered := string(content)
	for _, want := range []string{
		"Description=siteforge worker for shop.example.com",
		"User=www-data",
		"ExecStart=/usr/bin/php artisan queue:work",
		"Restart=always",
		"KillSignal=SIGTERM",
		"TimeoutStopSec=30",
		"append:/var/log/siteforge/shop.example.com-worker.log",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered unit missing %q", want)
		}
	}
}

// TestEnsureFirstDeploymentStarts tests the register-and-start path
func TestEnsureFirstDeploymentStarts(t *testing.T) {
	systemd, fake := setupTestSystemd(t)
	stubUnitEnabled(fake, false)

	action, err := systemd.Ensure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionStart {
		t.Errorf("expected action %s, got %s", ActionStart, action)
	}
	if !fake.Called("systemctl daemon-reload") {
		t.Error("first deployment did not reload the daemon")
	}
	if !fake.Called("systemctl enable " + testUnit) {
		t.Error("first deployment did not enable the unit")
	}
	if !fake.Called("systemctl start " + testUnit) {
		t.Error("first deployment did not start the worker")
	}
	if fake.Called("systemctl restart") {
		t.Error("first deployment restarted instead of starting")
	}

	registered, err := systemd.Registered("shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !registered {
		t.Error("unit file was not written")
	}
}

// TestEnsureAfterInertWriteStarts tests that an already-written unit file
// still takes the register-and-start path on the first deployment
func TestEnsureAfterInertWriteStarts(t *testing.T) {
	systemd, fake := setupTestSystemd(t)
	stubUnitEnabled(fake, false)

	// Site registration wrote the unit file; systemd has never seen it.
	if err := systemd.WriteUnit(testSpec()); err != nil {
		t.Fatalf("failed to write unit: %v", err)
	}

	action, err := systemd.Ensure(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action != ActionStart {
		t.Errorf("expected action %s, got %s", ActionStart, action)
	}
	if !fake.Called("systemctl daemon-reload") {
		t.Error("worker unit was never registered via daemon-reload")
	}
	if !fake.Called("systemctl start " + testUnit) {
		t.Error("first deployment did not start the worker")
	}
	if fake.Called("systemctl restart") {
		t.Error("first deployment restarted a worker that was never started")
	}
}

// TestEnsureLaterDeploymentRestarts tests the restart path
func TestEnsureLaterDeploymentRestarts(t *testing.T) {
	systemd, fake := setupTestSystemd(t)
	ctx := context.Background()

	stubUnitEnabled(fake, false)
	if _, err := systemd.Ensure(ctx, testSpec()); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}

	// Registration enabled the unit; systemd reports it from now on.
	stubUnitEnabled(fake, true)

	action, err := systemd.Ensure(ctx, testSpec())
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if action != ActionRestart {
		t.Errorf("expected action %s, got %s", ActionRestart, action)
	}
	if !fake.Called("systemctl restart " + testUnit) {
		t.Error("later deployment did not restart the worker")
	}
	if fake.CallCount("systemctl daemon-reload") != 1 {
		t.Error("later deployment re-registered the unit")
	}
}

// TestWriteUnitStaysInert tests that writing a unit does not touch systemctl
func TestWriteUnitStaysInert(t *testing.T) {
	systemd, fake := setupTestSystemd(t)

	if err := systemd.WriteUnit(testSpec()); err != nil {
		t.Fatalf("failed to write unit: %v", err)
	}
	if len(fake.Calls) != 0 {
		t.Errorf("writing the unit invoked systemctl: %v", fake.Calls)
	}
}
