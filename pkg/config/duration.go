package config

import "github.com/siteforge/siteforge/pkg/telemetry"

// Duration aliases the telemetry duration type so config files use the same
// "30s" syntax for every time-valued field.
type Duration = telemetry.Duration
