package engine

import (
	"context"

	"github.com/siteforge/siteforge/pkg/telemetry"
)

// Check is one read-only verification of a provisioned resource's state.
type Check struct {
	// Name identifies the resource being checked.
	Name string

	// Probe returns whether the expected state holds plus a detail string.
	// It must not mutate anything.
	Probe func(ctx context.Context) (ok bool, detail string, err error)
}

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	// Name is the check name.
	Name string `json:"name"`

	// OK reports whether the expected state holds.
	OK bool `json:"ok"`

	// Detail explains the observed state.
	Detail string `json:"detail,omitempty"`
}

// VerificationReport aggregates all check results into a single signal.
type VerificationReport struct {
	// Results are the per-check outcomes in declared order.
	Results []CheckResult `json:"results"`

	// Passed reports whether every check passed.
	Passed bool `json:"passed"`
}

// Verify runs every check regardless of earlier failures and aggregates the
// outcomes. A step can "succeed" by skipping and still leave an unreachable
// service; this pass is the operator's single pass/fail signal. A check's
// probe error counts as a failure of that check, not of the pass itself.
func Verify(ctx context.Context, logger *telemetry.Logger, metrics *telemetry.Metrics, checks []Check) *VerificationReport {
	report := &VerificationReport{Passed: true}

	for _, check := range checks {
		ok, detail, err := check.Probe(ctx)
		if err != nil {
			ok = false
			detail = err.Error()
		}
		report.Results = append(report.Results, CheckResult{
			Name:   check.Name,
			OK:     ok,
			Detail: detail,
		})
		if metrics != nil {
			metrics.RecordVerification(check.Name, ok)
		}
		if logger != nil {
			clog := logger.WithField("check", check.Name)
			if ok {
				clog.Infof("verify ok: %s", detail)
			} else {
				clog.Warnf("verify FAILED: %s", detail)
			}
		}
		if !ok {
			report.Passed = false
		}
	}

	return report
}
