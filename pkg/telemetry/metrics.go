package telemetry

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics provides Prometheus metrics for siteforge workflows.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	rollbacks     *prometheus.CounterVec

	// Lock metrics
	lockWaitDuration prometheus.Histogram
	lockTimeouts     prometheus.Counter

	// Verification metrics
	verificationChecks *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled config yields a no-op instance whose record methods are safe to call.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of workflow runs started",
			},
			[]string{"workflow"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of workflow runs completed",
			},
			[]string{"workflow", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of workflow runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"workflow", "status"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of steps executed by outcome",
			},
			[]string{"workflow", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of individual steps in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"workflow", "step"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_rollbacks_total",
				Help:      "Total number of step rollbacks by outcome",
			},
			[]string{"workflow", "step", "outcome"},
		),
		lockWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_lock_wait_seconds",
				Help:      "Time spent waiting for the shared runtime reload lock",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		lockTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reload_lock_timeouts_total",
				Help:      "Total number of reload lock acquisition timeouts",
			},
		),
		verificationChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_checks_total",
				Help:      "Total number of verification checks by result",
			},
			[]string{"check", "result"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.rollbacks,
		m.lockWaitDuration,
		m.lockTimeouts,
		m.verificationChecks,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// RecordRunStarted increments the started-runs counter.
func (m *Metrics) RecordRunStarted(workflow string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(workflow).Inc()
}

// RecordRunCompleted records a completed run with its final status and duration.
func (m *Metrics) RecordRunCompleted(workflow, status string, seconds float64) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(workflow, status).Inc()
	m.runDuration.WithLabelValues(workflow, status).Observe(seconds)
}

// RecordStep records a step execution outcome.
func (m *Metrics) RecordStep(workflow, step, status string, seconds float64) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(workflow, step, status).Inc()
	m.stepDuration.WithLabelValues(workflow, step).Observe(seconds)
}

// RecordRollback records a rollback attempt outcome ("rolled_back" or "failed").
func (m *Metrics) RecordRollback(workflow, step, outcome string) {
	if m.rollbacks == nil {
		return
	}
	m.rollbacks.WithLabelValues(workflow, step, outcome).Inc()
}

// RecordLockWait records how long a reload-lock acquisition took.
func (m *Metrics) RecordLockWait(seconds float64) {
	if m.lockWaitDuration == nil {
		return
	}
	m.lockWaitDuration.Observe(seconds)
}

// RecordLockTimeout increments the lock-timeout counter.
func (m *Metrics) RecordLockTimeout() {
	if m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// RecordVerification records a verification check result ("pass" or "fail").
func (m *Metrics) RecordVerification(check string, passed bool) {
	if m.verificationChecks == nil {
		return
	}
	result := "pass"
	if !passed {
		result = "fail"
	}
	m.verificationChecks.WithLabelValues(check, result).Inc()
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metric values in the Prometheus text
// exposition format, suitable for the node-exporter textfile collector.
// Configured via MetricsConfig.TextfilePath; no-op when unset or disabled.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}

	mfs, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp := m.config.TextfilePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open metrics textfile: %w", err)
	}

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			f.Close()
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Rename so scrapers never see a half-written file.
	return os.Rename(tmp, m.config.TextfilePath)
}
