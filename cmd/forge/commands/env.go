package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/siteforge/siteforge/pkg/command"
	"github.com/siteforge/siteforge/pkg/config"
	"github.com/siteforge/siteforge/pkg/credentials"
	"github.com/siteforge/siteforge/pkg/engine"
	"github.com/siteforge/siteforge/pkg/stores"
	"github.com/siteforge/siteforge/pkg/telemetry"
	"github.com/siteforge/siteforge/pkg/workflows"
)

// buildEnv assembles the workflow environment from the configuration. The
// returned cleanup flushes telemetry and closes every connection; callers
// defer it unconditionally.
func buildEnv(ctx context.Context, needsDB bool) (*workflows.Env, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Tracing, "siteforge", cliVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	env := &workflows.Env{
		Config:  cfg,
		Runner:  command.NewLocalRunner(),
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	cleanups = append(cleanups, func() {
		if err := metrics.WriteTextfile(); err != nil {
			logger.WithError(err).Warn("failed to write metrics textfile")
		}
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to shut down tracer")
		}
	})

	// Run history is best-effort; a missing or unwritable state database
	// must never block provisioning itself.
	store, err := stores.NewSQLiteStore(cfg.Paths.StateDB)
	if err == nil {
		err = store.Init(ctx)
	}
	if err != nil {
		logger.WithError(err).Warn("run history disabled: state database unavailable")
	} else {
		env.Store = store
		cleanups = append(cleanups, func() { store.Close() })
	}

	creds, err := credentials.NewFileStore(cfg.Paths.CredentialDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	env.Creds = creds

	if needsDB {
		db, err := workflows.OpenDatabase(cfg.Database)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to open database backend: %w", err)
		}
		env.DB = db
		cleanups = append(cleanups, func() { db.Close() })
	}

	return env, cleanup, nil
}

// cliVersion is set by Execute so telemetry can report the binary version.
var cliVersion = "dev"

// printReport writes a run report to stdout in the selected format.
func printReport(report *engine.RunReport) {
	if report == nil {
		return
	}
	if jsonOutput {
		printJSON(report)
		return
	}

	target := report.Resource
	if target == "" {
		target = "host"
	}
	fmt.Printf("%s %s: %s (%s)\n", report.Workflow, target, report.Status,
		report.CompletedAt.Sub(report.StartedAt).Round(1e6))
	for _, step := range report.Steps {
		line := fmt.Sprintf("  %-16s %s", step.Name, step.Status)
		if step.Detail != "" {
			line += "  " + step.Detail
		}
		fmt.Println(line)
	}
}

// printVerification writes a verification report to stdout.
func printVerification(report *engine.VerificationReport) {
	if report == nil {
		return
	}
	if jsonOutput {
		printJSON(report)
		return
	}

	for _, result := range report.Results {
		mark := "ok"
		if !result.OK {
			mark = "FAIL"
		}
		fmt.Printf("  %-16s %-4s %s\n", result.Name, mark, result.Detail)
	}
	if report.Passed {
		fmt.Println("verification passed")
	} else {
		fmt.Println("verification FAILED")
	}
}

// verificationError converts a failed pass into the error the root command
// maps to the verification exit code.
func verificationError(report *engine.VerificationReport) error {
	if report == nil || report.Passed {
		return nil
	}
	failed := 0
	for _, result := range report.Results {
		if !result.OK {
			failed++
		}
	}
	return &verificationFailedError{failed: failed}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
