// Package workflows declares the ordered step lists for each siteforge
// workflow: base-environment setup, site registration, certificate issuance,
// and application deployment. The generic execution semantics live in
// pkg/engine; this package only composes backends into steps.
package workflows

import (
	"context"
	"fmt"
	"regexp"

	"github.com/siteforge/siteforge/pkg/backends/database"
	"github.com/siteforge/siteforge/pkg/command"
	"github.com/siteforge/siteforge/pkg/config"
	"github.com/siteforge/siteforge/pkg/credentials"
	"github.com/siteforge/siteforge/pkg/engine"
	"github.com/siteforge/siteforge/pkg/stores"
	"github.com/siteforge/siteforge/pkg/telemetry"
)

// Env bundles the collaborators every workflow needs. Built once per
// invocation from the immutable config.
type Env struct {
	Config  *config.Config
	Runner  command.Runner
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	// Store is the run-history store. Optional; nil disables persistence.
	Store *stores.SQLiteStore

	// DB is the database backend. Opened lazily by workflows that need it.
	DB database.Provisioner

	// Creds is the per-site credential store.
	Creds *credentials.FileStore
}

// engineRunner builds the step executor wired to this environment.
func (e *Env) engineRunner() *engine.Runner {
	r := &engine.Runner{
		Logger:  e.Logger,
		Metrics: e.Metrics,
		Tracer:  e.Tracer,
	}
	if e.Store != nil {
		r.Recorder = e.Store
	}
	return r
}

// OpenDatabase opens the configured database backend's admin connection.
func OpenDatabase(cfg config.DatabaseConfig) (database.Provisioner, error) {
	switch cfg.Backend {
	case "postgres":
		return database.OpenPostgres(cfg.Host, cfg.Port, cfg.AdminUser, cfg.AdminPassword)
	case "mysql":
		return database.OpenMySQL(cfg.Host, cfg.Port, cfg.AdminUser, cfg.AdminPassword)
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Backend)
	}
}

// domainPattern accepts lowercase DNS names: labels of letters, digits, and
// inner hyphens, at least two labels.
var domainPattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// ValidateDomain checks a site identifier before any side effect occurs.
func ValidateDomain(domain string) error {
	if domain == "" {
		return engine.NewValidationError("domain is required", nil)
	}
	if len(domain) > 253 || !domainPattern.MatchString(domain) {
		return engine.NewValidationError(
			fmt.Sprintf("malformed domain %q: expected a lowercase DNS name like a.example.com", domain), nil)
	}
	return nil
}

// shellStep builds a step that runs a command line through the shell in the
// given directory. Shell steps are naturally non-idempotent deploy actions,
// so they carry no probe and always re-apply.
func shellStep(runner command.Runner, name, dir, cmdline string) *engine.FuncStep {
	return &engine.FuncStep{
		StepName: name,
		ApplyFn: func(ctx context.Context) error {
			res, err := runner.Run(ctx, "sh", "-c", "cd "+dir+" && "+cmdline)
			if err != nil {
				return err
			}
			if !res.Success() {
				return &command.ExitError{Line: cmdline, Result: res}
			}
			return nil
		},
	}
}
