package telemetry

import "time"

// LoggingConfig configures the zerolog-backed logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `json:"level" yaml:"level"`

	// Format is the output format: "json" or "console".
	Format string `json:"format" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `json:"output" yaml:"output"`

	// EnableCaller adds file:line caller information to each entry.
	EnableCaller bool `json:"enable_caller" yaml:"enable_caller"`
}

// DefaultLoggingConfig returns console logging at info level on stderr.
// Workflow output itself goes to stdout, so logs stay separable.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled turns span export on. Disabled tracers are no-ops.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is "stdout", "otlp", or "none".
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint (host:port) when Exporter is "otlp".
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `json:"insecure" yaml:"insecure"`

	// SamplingRate is the trace sampling ratio in [0,1].
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	// ExportTimeout bounds each export batch.
	ExportTimeout Duration `json:"export_timeout" yaml:"export_timeout"`
}

// DefaultTracingConfig returns tracing disabled; a CLI run should opt in.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:       false,
		Exporter:      "stdout",
		SamplingRate:  1.0,
		ExportTimeout: Duration(30 * time.Second),
	}
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Namespace prefixes all metric names.
	Namespace string `json:"namespace" yaml:"namespace"`

	// TextfilePath, when set, makes each run append its final metric values
	// to a node-exporter textfile-collector compatible file.
	TextfilePath string `json:"textfile_path" yaml:"textfile_path"`
}

// DefaultMetricsConfig returns metrics enabled under the "siteforge" namespace.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "siteforge",
	}
}
