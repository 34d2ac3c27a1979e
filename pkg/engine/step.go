package engine

import (
	"context"
	"time"
)

// Step is one ordered, named unit of provisioning or deployment work.
// Probe reads current state; Apply mutates toward desired state. Apply is
// called only when Probe reported the step as not yet satisfied, so every
// step is safe to re-run.
type Step interface {
	// Name identifies the step in logs, run reports, and the state store.
	Name() string

	// Probe reports whether the step's desired state already holds.
	Probe(ctx context.Context) (satisfied bool, err error)

	// Apply mutates the external subsystem toward the desired state.
	Apply(ctx context.Context) error
}

// Reversible is implemented by steps that can undo a failed apply. Snapshot
// is taken immediately before Apply; Rollback receives that exact snapshot
// and is only ever invoked right after the same Apply failed, never later.
type Reversible interface {
	Step

	// Snapshot captures the pre-apply state needed to undo this step.
	Snapshot(ctx context.Context) ([]byte, error)

	// Rollback restores the pre-apply state from the snapshot.
	Rollback(ctx context.Context, snapshot []byte) error
}

// Skippable is implemented by steps whose failure downgrades the run to
// succeeded-with-warnings instead of aborting it.
type Skippable interface {
	Step

	// Skippable reports whether a failure of this step may be tolerated.
	Skippable() bool
}

// StepStatus is the state of a step within a run.
type StepStatus string

const (
	StepPending        StepStatus = "pending"
	StepProbing        StepStatus = "probing"
	StepSatisfied      StepStatus = "satisfied"
	StepApplying       StepStatus = "applying"
	StepApplied        StepStatus = "applied"
	StepFailed         StepStatus = "failed"
	StepRollingBack    StepStatus = "rolling_back"
	StepRolledBack     StepStatus = "rolled_back"
	StepRollbackFailed StepStatus = "rollback_failed"
)

// Terminal reports whether the status is an end state for a step.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSatisfied, StepApplied, StepFailed, StepRolledBack, StepRollbackFailed:
		return true
	}
	return false
}

// StepResult records the outcome of one step within a run.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Status is the terminal status the step reached.
	Status StepStatus `json:"status"`

	// Detail is an optional human-readable note (skip reason, failure cause).
	Detail string `json:"detail,omitempty"`

	// Err is the error that terminated the step, if any.
	Err error `json:"-"`

	// Duration is the wall-clock time spent on the step.
	Duration time.Duration `json:"duration"`
}

// FuncStep builds a Step from closures. Backends use it to declare their
// steps without one-type-per-step boilerplate; a nil ProbeFn means the step
// is naturally idempotent and always re-applies.
type FuncStep struct {
	StepName   string
	ProbeFn    func(ctx context.Context) (bool, error)
	ApplyFn    func(ctx context.Context) error
	SnapshotFn func(ctx context.Context) ([]byte, error)
	RollbackFn func(ctx context.Context, snapshot []byte) error
	CanSkip    bool
}

// Name implements Step.
func (s *FuncStep) Name() string { return s.StepName }

// Probe implements Step.
func (s *FuncStep) Probe(ctx context.Context) (bool, error) {
	if s.ProbeFn == nil {
		return false, nil
	}
	return s.ProbeFn(ctx)
}

// Apply implements Step.
func (s *FuncStep) Apply(ctx context.Context) error {
	return s.ApplyFn(ctx)
}

// Snapshot implements Reversible when a SnapshotFn is registered.
func (s *FuncStep) Snapshot(ctx context.Context) ([]byte, error) {
	if s.SnapshotFn == nil {
		return nil, nil
	}
	return s.SnapshotFn(ctx)
}

// Rollback implements Reversible when a RollbackFn is registered.
func (s *FuncStep) Rollback(ctx context.Context, snapshot []byte) error {
	if s.RollbackFn == nil {
		return nil
	}
	return s.RollbackFn(ctx, snapshot)
}

// Skippable implements Skippable.
func (s *FuncStep) Skippable() bool { return s.CanSkip }

// reversible reports whether the step registered a usable rollback.
func reversible(s Step) (Reversible, bool) {
	if fs, ok := s.(*FuncStep); ok {
		if fs.RollbackFn == nil {
			return nil, false
		}
		return fs, true
	}
	r, ok := s.(Reversible)
	return r, ok
}

// skippable reports whether a step failure may downgrade to a warning.
func skippable(s Step) bool {
	if sk, ok := s.(Skippable); ok {
		return sk.Skippable()
	}
	return false
}
