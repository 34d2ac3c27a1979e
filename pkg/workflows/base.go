package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siteforge/siteforge/pkg/backends/pkgmgr"
	"github.com/siteforge/siteforge/pkg/backends/webserver"
	"github.com/siteforge/siteforge/pkg/engine"
)

// basePackagesFor returns the packages the host needs for the configured
// database backend: web server, runtime, database, cache, CA client, and git.
func basePackagesFor(backend, runtimeService string) []string {
	pkgs := []string{
		"nginx",
		runtimeService,
		"redis-server",
		"certbot",
		"git",
	}
	if backend == "postgres" {
		return append(pkgs, "postgresql")
	}
	return append(pkgs, "mysql-server")
}

// SetupBase provisions the base environment and then runs the verification
// pass. The pass runs unconditionally after provisioning and its failure
// turns the exit status non-zero even when every step succeeded or skipped.
func SetupBase(ctx context.Context, env *Env) (*engine.RunReport, *engine.VerificationReport, error) {
	cfg := env.Config
	apt := pkgmgr.New(env.Runner)
	packages := basePackagesFor(cfg.Database.Backend, cfg.Deploy.RuntimeService)

	steps := []engine.Step{
		&engine.FuncStep{
			StepName: "package-index",
			ApplyFn: func(ctx context.Context) error {
				return apt.Update(ctx)
			},
		},
		&engine.FuncStep{
			StepName: "packages",
			ProbeFn: func(ctx context.Context) (bool, error) {
				for _, pkg := range packages {
					installed, err := apt.Installed(ctx, pkg)
					if err != nil {
						return false, err
					}
					if !installed {
						return false, nil
					}
				}
				return true, nil
			},
			ApplyFn: func(ctx context.Context) error {
				return apt.Install(ctx, packages...)
			},
		},
		directoriesStep(cfg.Paths.WebRoot, cfg.Paths.CredentialDir,
			filepath.Dir(cfg.Paths.ReloadLock), filepath.Dir(cfg.Paths.StateDB),
			"/var/log/siteforge"),
		serviceStep(env, "nginx"),
		serviceStep(env, databaseServiceFor(cfg.Database.Backend)),
		serviceStep(env, "redis-server"),
	}

	report, runErr := env.engineRunner().Run(ctx, "setup", "", steps)
	if runErr != nil {
		return report, nil, runErr
	}

	verification := engine.Verify(ctx, env.Logger, env.Metrics, baseChecks(env))
	return report, verification, nil
}

// VerifyBase runs the read-only verification pass without provisioning
// anything first.
func VerifyBase(ctx context.Context, env *Env) *engine.VerificationReport {
	return engine.Verify(ctx, env.Logger, env.Metrics, baseChecks(env))
}

// directoriesStep ensures the tool's working directories exist. The
// credential directory is created 0700 by its own store; the rest are 0755.
func directoriesStep(webRoot, credentialDir string, dirs ...string) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "directories",
		ApplyFn: func(ctx context.Context) error {
			if err := os.MkdirAll(webRoot, 0755); err != nil {
				return err
			}
			if err := os.MkdirAll(credentialDir, 0700); err != nil {
				return err
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// serviceStep enables and starts a service. Probed by is-active so an
// already-running service is a skip.
func serviceStep(env *Env, service string) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "service-" + service,
		ProbeFn: func(ctx context.Context) (bool, error) {
			res, err := env.Runner.Run(ctx, "systemctl", "is-active", "--quiet", service)
			if err != nil {
				return false, err
			}
			return res.Success(), nil
		},
		ApplyFn: func(ctx context.Context) error {
			for _, verb := range []string{"enable", "start"} {
				res, err := env.Runner.Run(ctx, "systemctl", verb, service)
				if err != nil {
					return err
				}
				if !res.Success() {
					return fmt.Errorf("systemctl %s %s exited %d: %s",
						verb, service, res.ExitCode, res.Stderr)
				}
			}
			return nil
		},
	}
}

// baseChecks is the read-only verification list for the base environment.
// Every check runs regardless of earlier failures.
func baseChecks(env *Env) []engine.Check {
	cfg := env.Config
	nginx := webserver.New(env.Runner, cfg.Paths.SitesAvailable, cfg.Paths.SitesEnabled)

	return []engine.Check{
		{
			Name: "web-server",
			Probe: func(ctx context.Context) (bool, string, error) {
				active, err := nginx.Active(ctx)
				if err != nil {
					return false, "", err
				}
				if !active {
					return false, "nginx service is not active", nil
				}
				if err := nginx.Validate(ctx); err != nil {
					return false, err.Error(), nil
				}
				return true, "nginx active, configuration valid", nil
			},
		},
		{
			Name: "database",
			Probe: func(ctx context.Context) (bool, string, error) {
				if err := env.DB.Ping(ctx); err != nil {
					return false, fmt.Sprintf("database unreachable: %v", err), nil
				}
				return true, "database reachable", nil
			},
		},
		{
			Name: "cache",
			Probe: func(ctx context.Context) (bool, string, error) {
				res, err := env.Runner.Run(ctx, "redis-cli", "ping")
				if err != nil {
					return false, "", err
				}
				if !res.Success() || res.Stdout != "PONG" {
					return false, "redis did not answer PONG", nil
				}
				return true, "redis answered PONG", nil
			},
		},
		{
			Name: "runtime",
			Probe: func(ctx context.Context) (bool, string, error) {
				res, err := env.Runner.Run(ctx, "systemctl", "is-active", "--quiet", cfg.Deploy.RuntimeService)
				if err != nil {
					return false, "", err
				}
				if !res.Success() {
					return false, cfg.Deploy.RuntimeService + " is not active", nil
				}
				return true, cfg.Deploy.RuntimeService + " active", nil
			},
		},
		{
			Name: "credential-dir",
			Probe: func(ctx context.Context) (bool, string, error) {
				info, err := os.Stat(cfg.Paths.CredentialDir)
				if err != nil {
					return false, "credential directory missing", nil
				}
				if info.Mode().Perm() != 0700 {
					return false, fmt.Sprintf("credential directory mode %o, want 0700", info.Mode().Perm()), nil
				}
				return true, "credential directory present, mode 0700", nil
			},
		},
	}
}

func databaseServiceFor(backend string) string {
	if backend == "postgres" {
		return "postgresql"
	}
	return "mysql"
}
