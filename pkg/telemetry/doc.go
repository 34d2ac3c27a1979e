// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for siteforge workflows. Every workflow run gets a
// component logger, per-step counters, and a span tree rooted at the run.
package telemetry
