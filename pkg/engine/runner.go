package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/siteforge/siteforge/pkg/telemetry"
)

// RunStatus is the terminal status of a WorkflowRun.
type RunStatus string

const (
	// RunSucceeded means every step was applied or already satisfied.
	RunSucceeded RunStatus = "succeeded"

	// RunWarnings means the run completed but at least one skippable step failed.
	RunWarnings RunStatus = "warnings"

	// RunAborted means a required step failed; remaining steps did not run.
	RunAborted RunStatus = "aborted"
)

// RunReport is the record of one workflow run: one ordered execution of
// steps against one resource (a site) or the base environment.
type RunReport struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Workflow is the workflow name (setup, site-register, cert, deploy).
	Workflow string `json:"workflow"`

	// Resource is the target resource key, or "" for the base environment.
	Resource string `json:"resource,omitempty"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Steps are the per-step outcomes in execution order. Steps that never
	// ran because an earlier step aborted the run are absent.
	Steps []StepResult `json:"steps"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached its terminal status.
	CompletedAt time.Time `json:"completed_at"`
}

// Recorder persists run reports. The sqlite store implements it; a nil
// Recorder on the Runner disables persistence.
type Recorder interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// Runner executes an ordered list of steps strictly in declared order with
// per-step failure containment. There is deliberately no cross-step rollback:
// later steps build on infrastructure left by earlier ones, and undoing, say,
// a package installation mid-run is unsafe.
type Runner struct {
	Logger   *telemetry.Logger
	Metrics  *telemetry.Metrics
	Tracer   *telemetry.Tracer
	Recorder Recorder
}

// Run executes the steps and returns the run report. The returned error is
// the one that aborted the run; it is nil for succeeded and warnings runs.
// The report is always non-nil and always recorded, even for aborted runs.
func (r *Runner) Run(ctx context.Context, workflow, resource string, steps []Step) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.NewString(),
		Workflow:  workflow,
		Resource:  resource,
		Status:    RunSucceeded,
		StartedAt: time.Now().UTC(),
	}

	logger := r.logger().WithWorkflow(workflow).WithRunID(report.ID)
	if resource != "" {
		logger = logger.WithSite(resource)
	}

	if r.Tracer != nil {
		spanCtx, runSpan := r.Tracer.StartRunSpan(ctx, workflow, report.ID)
		ctx = spanCtx
		defer runSpan.End()
	}

	if r.Metrics != nil {
		r.Metrics.RecordRunStarted(workflow)
	}
	logger.Infof("run started: %d step(s)", len(steps))

	var abortErr error
	for _, step := range steps {
		result := r.executeStep(ctx, logger, workflow, step)
		report.Steps = append(report.Steps, result)

		switch result.Status {
		case StepSatisfied, StepApplied:
			continue
		case StepFailed:
			if skippable(step) {
				logger.WithStep(step.Name()).WithError(result.Err).
					Warn("skippable step failed, continuing with warnings")
				report.Status = RunWarnings
				continue
			}
			abortErr = result.Err
		case StepRolledBack:
			// The step's own side effect was undone, but its precondition was
			// not met: the run cannot continue.
			abortErr = result.Err
		case StepRollbackFailed:
			abortErr = result.Err
		}
		if abortErr != nil {
			report.Status = RunAborted
			break
		}
	}

	report.CompletedAt = time.Now().UTC()

	if r.Metrics != nil {
		r.Metrics.RecordRunCompleted(workflow, string(report.Status),
			report.CompletedAt.Sub(report.StartedAt).Seconds())
	}

	if r.Recorder != nil {
		if err := r.Recorder.RecordRun(ctx, report); err != nil {
			logger.WithError(err).Warn("failed to record run report")
		}
	}

	if abortErr != nil {
		logger.WithError(abortErr).Error("run aborted")
		return report, abortErr
	}
	logger.Infof("run completed: %s", report.Status)
	return report, nil
}

// executeStep drives one step through its state machine:
// PENDING -> PROBING -> {SATISFIED | APPLYING -> {APPLIED | FAILED ->
// ROLLING_BACK -> {ROLLED_BACK | ROLLBACK_FAILED}}}.
func (r *Runner) executeStep(ctx context.Context, logger *telemetry.Logger, workflow string, step Step) StepResult {
	start := time.Now()
	slog := logger.WithStep(step.Name())
	result := StepResult{Name: step.Name(), Status: StepProbing}

	if r.Tracer != nil {
		stepCtx, span := r.Tracer.StartStepSpan(ctx, step.Name())
		ctx = stepCtx
		defer span.End()
	}

	finish := func(status StepStatus, detail string, err error) StepResult {
		result.Status = status
		result.Detail = detail
		result.Err = err
		result.Duration = time.Since(start)
		if r.Metrics != nil {
			r.Metrics.RecordStep(workflow, step.Name(), string(status), result.Duration.Seconds())
		}
		return result
	}

	satisfied, err := step.Probe(ctx)
	if err != nil {
		slog.WithError(err).Error("probe failed")
		// A classified probe error (the guard's conflict) keeps its class.
		if _, ok := classOf(err); ok {
			return finish(StepFailed, "probe failed", err)
		}
		return finish(StepFailed, "probe failed",
			NewApplyFailedError("probe failed", err).WithStep(step.Name()))
	}
	if satisfied {
		slog.Info("already satisfied, skipping")
		return finish(StepSatisfied, "already satisfied", nil)
	}

	// Snapshot before apply so rollback has the exact pre-apply state.
	var snapshot []byte
	rev, canRollback := reversible(step)
	if canRollback {
		snapshot, err = rev.Snapshot(ctx)
		if err != nil {
			slog.WithError(err).Error("snapshot failed")
			return finish(StepFailed, "snapshot failed",
				NewApplyFailedError("pre-apply snapshot failed", err).WithStep(step.Name()))
		}
	}

	result.Status = StepApplying
	slog.Info("applying")

	applyErr := step.Apply(ctx)
	if applyErr == nil {
		slog.Info("applied")
		return finish(StepApplied, "", nil)
	}
	slog.WithError(applyErr).Error("apply failed")

	if !canRollback {
		return finish(StepFailed, "apply failed", wrapApply(step, applyErr))
	}

	result.Status = StepRollingBack
	slog.Warn("rolling back")

	if rbErr := rev.Rollback(ctx, snapshot); rbErr != nil {
		slog.WithError(rbErr).Error("rollback failed")
		if r.Metrics != nil {
			r.Metrics.RecordRollback(workflow, step.Name(), "failed")
		}
		return finish(StepRollbackFailed, "rollback failed",
			NewApplyFailedError("apply failed and rollback failed", rbErr).WithStep(step.Name()))
	}

	slog.Warn("rolled back to pre-apply state")
	if r.Metrics != nil {
		r.Metrics.RecordRollback(workflow, step.Name(), "rolled_back")
	}
	return finish(StepRolledBack, "apply failed, side effect undone", wrapApply(step, applyErr))
}

// wrapApply preserves an already-classified error and classifies raw ones.
func wrapApply(step Step, err error) error {
	if _, ok := classOf(err); ok {
		return err
	}
	return NewApplyFailedError("apply failed", err).WithStep(step.Name())
}

func (r *Runner) logger() *telemetry.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return telemetry.FromContext(context.Background())
}
