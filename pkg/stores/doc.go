// Package stores persists workflow run history in a local SQLite database:
// every run, its per-step outcomes, and the worker actions taken during
// deployments. Credentials are deliberately NOT stored here; their flat
// files are the provisioning source of truth.
package stores
