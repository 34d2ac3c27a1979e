package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/siteforge/siteforge/pkg/backends/supervisor"
	"github.com/siteforge/siteforge/pkg/engine"
	"github.com/siteforge/siteforge/pkg/locker"
)

// Deploy runs the fixed deployment sequence for a registered site: fetch,
// dependencies, runtime reload (under the shared lock), assets, migrations,
// worker signal, cache invalidation, and finally the supervised worker
// (started on first deploy, restarted afterwards). A failing step aborts the
// remainder and its exit code propagates; completed steps are never rolled
// back. The fix for a bad deploy is the next deploy.
func Deploy(ctx context.Context, env *Env, domain, branch string) (*engine.RunReport, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	cfg := env.Config
	if branch == "" {
		branch = cfg.Deploy.DefaultBranch
	}

	siteDir := filepath.Join(cfg.Paths.WebRoot, domain)
	if _, err := os.Stat(siteDir); err != nil {
		return nil, engine.NewPrereqMissingError(
			fmt.Sprintf("site directory %s is missing; run 'forge site register' first", siteDir), err)
	}

	systemd := supervisor.New(env.Runner, cfg.Paths.UnitDir)

	steps := []engine.Step{
		shellStep(env.Runner, "fetch", siteDir,
			fmt.Sprintf("git fetch origin && git checkout %s && git reset --hard origin/%s", branch, branch)),
		shellStep(env.Runner, "dependencies", siteDir, cfg.Deploy.InstallDeps),
		runtimeReloadStep(env),
		shellStep(env.Runner, "assets", siteDir, cfg.Deploy.BuildAssets),
		shellStep(env.Runner, "migrate", siteDir, cfg.Deploy.Migrate),
		shellStep(env.Runner, "worker-signal", siteDir, cfg.Deploy.RestartWorkers),
		shellStep(env.Runner, "caches", siteDir, cfg.Deploy.InvalidateCaches),
		workerEnsureStep(env, systemd, workerSpecFor(cfg, domain)),
	}

	return env.engineRunner().Run(ctx, "deploy", domain, steps)
}

// runtimeReloadStep reloads the shared application runtime under the
// advisory file lock. Two deployments of sites sharing one runtime pool
// contend here; the second waits up to the configured bound and aborts with
// a lock-timeout error rather than reloading unlocked. The release is
// deferred, so the lock is dropped on every exit path, including a failed
// reload command.
func runtimeReloadStep(env *Env) *engine.FuncStep {
	cfg := env.Config
	lock := &locker.FileLock{
		Path:       cfg.Paths.ReloadLock,
		StaleAfter: 5 * time.Minute,
	}

	return &engine.FuncStep{
		StepName: "runtime-reload",
		ApplyFn: func(ctx context.Context) error {
			waitStart := time.Now()
			release, err := lock.Acquire(ctx, cfg.ReloadLockTimeout.Std())
			if env.Metrics != nil {
				env.Metrics.RecordLockWait(time.Since(waitStart).Seconds())
			}
			if err != nil {
				if env.Metrics != nil {
					env.Metrics.RecordLockTimeout()
				}
				return engine.NewLockTimeoutError("could not acquire runtime reload lock", err)
			}
			defer release()

			res, runErr := env.Runner.Run(ctx, "systemctl", "reload", cfg.Deploy.RuntimeService)
			if runErr != nil {
				return runErr
			}
			if !res.Success() {
				return fmt.Errorf("runtime reload exited %d: %s", res.ExitCode, res.Stderr)
			}
			return nil
		},
	}
}

// workerEnsureStep registers-and-starts the worker on first deployment and
// restarts it afterwards, recording which action was taken.
func workerEnsureStep(env *Env, systemd *supervisor.Systemd, spec supervisor.UnitSpec) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "worker",
		ApplyFn: func(ctx context.Context) error {
			action, err := systemd.Ensure(ctx, spec)
			if err != nil {
				return engine.NewApplyFailedError("worker supervision failed", err).WithResource(spec.Site)
			}
			if env.Store != nil {
				if recErr := env.Store.RecordWorkerAction(ctx, spec.Site, string(action)); recErr != nil {
					env.Logger.WithError(recErr).Warn("failed to record worker action")
				}
			}
			env.Logger.WithSite(spec.Site).Infof("worker %sed", action)
			return nil
		},
	}
}
