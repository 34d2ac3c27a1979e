package workflows

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siteforge/siteforge/pkg/backends/database"
	"github.com/siteforge/siteforge/pkg/backends/supervisor"
	"github.com/siteforge/siteforge/pkg/backends/webserver"
	"github.com/siteforge/siteforge/pkg/config"
	"github.com/siteforge/siteforge/pkg/credentials"
	"github.com/siteforge/siteforge/pkg/engine"
)

// RegisterSite provisions everything a new site needs: document root,
// database plus credential record, web-server vhost, and an inert worker
// unit. Every step is independently idempotent, so re-running for an
// already-registered domain skips the non-repeatable steps and rewrites the
// naturally idempotent ones.
func RegisterSite(ctx context.Context, env *Env, domain string) (*engine.RunReport, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if err := checkSitePrereqs(ctx, env); err != nil {
		return nil, err
	}

	cfg := env.Config
	siteDir := filepath.Join(cfg.Paths.WebRoot, domain)
	nginx := webserver.New(env.Runner, cfg.Paths.SitesAvailable, cfg.Paths.SitesEnabled)
	systemd := supervisor.New(env.Runner, cfg.Paths.UnitDir)

	steps := []engine.Step{
		docRootStep(siteDir),
		databaseStep(env, domain),
		vhostStep(nginx, vhostFor(cfg, domain)),
		workerUnitStep(systemd, workerSpecFor(cfg, domain)),
	}

	return env.engineRunner().Run(ctx, "site-register", domain, steps)
}

// checkSitePrereqs verifies the base environment exists before any site
// side effect. Eager, so a half-provisioned host never gets a half-registered
// site on top.
func checkSitePrereqs(ctx context.Context, env *Env) error {
	if _, err := os.Stat(env.Config.Paths.SitesAvailable); err != nil {
		return engine.NewPrereqMissingError(
			"web server configuration directory is missing; run 'forge setup' first", err)
	}
	if err := env.DB.Ping(ctx); err != nil {
		return engine.NewPrereqMissingError(
			"database server is unreachable; run 'forge setup' first", err)
	}
	return nil
}

// docRootStep creates the site's directory skeleton. MkdirAll is naturally
// idempotent, so there is no probe.
func docRootStep(siteDir string) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "docroot",
		ApplyFn: func(ctx context.Context) error {
			for _, dir := range []string{
				filepath.Join(siteDir, "public"),
				filepath.Join(siteDir, "logs"),
			} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create %s: %w", dir, err)
				}
			}
			return nil
		},
	}
}

// databaseStep creates the site's database, user, and credential record.
// Creation is non-repeatable, so the probe routes through the idempotency
// guard: skip when this tool provisioned the database, hard-stop when the
// database exists without a credential record.
func databaseStep(env *Env, domain string) *engine.FuncStep {
	dbName := database.DatabaseNameFor(domain)
	guard := &engine.Guard{
		RemediationFor: func(string) string {
			return database.RemediationFor(env.Config.Database.Backend, dbName)
		},
	}

	return &engine.FuncStep{
		StepName: "database",
		ProbeFn: func(ctx context.Context) (bool, error) {
			exists, err := env.DB.DatabaseExists(ctx, dbName)
			if err != nil {
				return false, err
			}
			hasRecord, err := env.Creds.Exists(domain)
			if err != nil {
				return false, err
			}

			// A stale record names the user this tool created. If that user
			// outlived its database, the site was half-removed by hand;
			// rebuilding over it is as unsafe as adopting an unrecorded one.
			if hasRecord && !exists {
				cred, err := env.Creds.Load(domain)
				if err != nil {
					return false, err
				}
				leftover, err := env.DB.UserExists(ctx, cred.Username)
				if err != nil {
					return false, err
				}
				if leftover {
					return false, engine.NewUnrecoverableStateError(
						fmt.Sprintf("database %q is gone but its user %q still exists; refusing to rebuild a half-removed site", dbName, cred.Username),
						database.UserRemediationFor(env.Config.Database.Backend, cred.Username),
					).WithResource(dbName)
				}
			}

			action, err := guard.Resolve(dbName, exists, hasRecord)
			if err != nil {
				return false, err
			}
			return action == engine.ActionSkip, nil
		},
		ApplyFn: func(ctx context.Context) error {
			cred, err := credentials.Generate(domain, dbName, env.Config.Database.Host)
			if err != nil {
				return err
			}

			if err := env.DB.CreateDatabase(ctx, dbName); err != nil {
				return engine.NewApplyFailedError("database creation failed", err).WithResource(dbName)
			}
			if err := env.DB.CreateUser(ctx, cred); err != nil {
				return engine.NewApplyFailedError("database user creation failed", err).WithResource(dbName)
			}
			if err := env.DB.Grant(ctx, cred); err != nil {
				return engine.NewApplyFailedError("privilege grant failed", err).WithResource(dbName)
			}

			// Persist only after the backend resource exists; a stale record
			// is overwritten, never a live one.
			stale, err := env.Creds.Exists(domain)
			if err != nil {
				return err
			}
			if stale {
				return env.Creds.Replace(domain, cred)
			}
			return env.Creds.Persist(domain, cred)
		},
	}
}

// vhostStep writes, validates, and activates the vhost. The apply's own
// validation sub-check gates activation: the reload never runs against an
// unvalidated file, and the engine restores the snapshot on failure.
func vhostStep(nginx *webserver.Nginx, vhost webserver.VHost) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "vhost",
		SnapshotFn: func(ctx context.Context) ([]byte, error) {
			return nginx.Snapshot(vhost.Domain)
		},
		RollbackFn: func(ctx context.Context, snapshot []byte) error {
			return nginx.Restore(vhost.Domain, snapshot)
		},
		ApplyFn: func(ctx context.Context) error {
			content, err := nginx.Render(vhost)
			if err != nil {
				return err
			}
			if err := nginx.WriteVHost(vhost.Domain, content); err != nil {
				return err
			}
			if err := nginx.Validate(ctx); err != nil {
				return engine.NewApplyFailedError("vhost validation failed", err).WithResource(vhost.Domain)
			}
			if err := nginx.Enable(vhost.Domain); err != nil {
				return err
			}
			return nginx.Reload(ctx)
		},
	}
}

// workerUnitStep writes the inert worker unit file. Registration with the
// supervision subsystem happens on first deployment, not here.
func workerUnitStep(systemd *supervisor.Systemd, spec supervisor.UnitSpec) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: "worker-unit",
		ApplyFn: func(ctx context.Context) error {
			return systemd.WriteUnit(spec)
		},
	}
}

// vhostFor assembles the plain-HTTP vhost data for a domain. The cert
// workflow upgrades it to TLS once a certificate exists.
func vhostFor(cfg *config.Config, domain string) webserver.VHost {
	siteDir := filepath.Join(cfg.Paths.WebRoot, domain)
	return webserver.VHost{
		Domain:        domain,
		DocumentRoot:  filepath.Join(siteDir, "public"),
		AccessLog:     filepath.Join(siteDir, "logs", "access.log"),
		ErrorLog:      filepath.Join(siteDir, "logs", "error.log"),
		RuntimeSocket: "/run/php/" + cfg.Deploy.RuntimeService + ".sock",
	}
}

// workerSpecFor assembles the worker unit data for a domain.
func workerSpecFor(cfg *config.Config, domain string) supervisor.UnitSpec {
	siteDir := filepath.Join(cfg.Paths.WebRoot, domain)
	return supervisor.UnitSpec{
		Site:           domain,
		Command:        "/usr/bin/php artisan queue:work --sleep=3 --tries=3",
		WorkingDir:     siteDir,
		User:           "www-data",
		StopSignal:     "SIGTERM",
		StopTimeoutSec: 30,
	}
}
