// Package config defines the immutable configuration for siteforge. One
// Config value is loaded at process start, validated, and passed into each
// component at construction; nothing reads ambient mutable state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/siteforge/siteforge/pkg/telemetry"
)

// Config is the top-level siteforge configuration.
type Config struct {
	// Paths configures every filesystem location the tool touches.
	Paths PathsConfig `json:"paths" yaml:"paths" validate:"required"`

	// Database selects and configures the database backend.
	Database DatabaseConfig `json:"database" yaml:"database" validate:"required"`

	// Deploy configures the application deployment step commands.
	Deploy DeployConfig `json:"deploy" yaml:"deploy"`

	// Certificate configures the certificate authority client.
	Certificate CertificateConfig `json:"certificate" yaml:"certificate"`

	// ReloadLockTimeout bounds the wait for the shared runtime reload lock.
	ReloadLockTimeout Duration `json:"reload_lock_timeout" yaml:"reload_lock_timeout" validate:"gt=0"`

	// Logging configures the logger.
	Logging telemetry.LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures Prometheus metric collection.
	Metrics telemetry.MetricsConfig `json:"metrics" yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing telemetry.TracingConfig `json:"tracing" yaml:"tracing"`
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	// WebRoot is the base directory under which each site's document root
	// lives (<WebRoot>/<domain>/public).
	WebRoot string `json:"web_root" yaml:"web_root" validate:"required"`

	// CredentialDir holds the per-site credential record files.
	CredentialDir string `json:"credential_dir" yaml:"credential_dir" validate:"required"`

	// SitesAvailable is the web server's per-site config directory.
	SitesAvailable string `json:"sites_available" yaml:"sites_available" validate:"required"`

	// SitesEnabled is the web server's enabled-site symlink directory.
	SitesEnabled string `json:"sites_enabled" yaml:"sites_enabled" validate:"required"`

	// UnitDir is where generated process-supervision units are written.
	UnitDir string `json:"unit_dir" yaml:"unit_dir" validate:"required"`

	// ReloadLock is the shared runtime reload lock file.
	ReloadLock string `json:"reload_lock" yaml:"reload_lock" validate:"required"`

	// StateDB is the sqlite run-history database path.
	StateDB string `json:"state_db" yaml:"state_db" validate:"required"`

	// CertLiveDir is where the certificate authority client keeps live
	// certificates (<CertLiveDir>/<domain>/fullchain.pem).
	CertLiveDir string `json:"cert_live_dir" yaml:"cert_live_dir" validate:"required"`
}

// DatabaseConfig selects the database backend and its admin connection.
type DatabaseConfig struct {
	// Backend is the database engine: "mysql" or "postgres".
	Backend string `json:"backend" yaml:"backend" validate:"required,oneof=mysql postgres"`

	// Host is the database server host.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the database server port.
	Port int `json:"port" yaml:"port" validate:"gt=0"`

	// AdminUser is the administrative account used for provisioning.
	AdminUser string `json:"admin_user" yaml:"admin_user" validate:"required"`

	// AdminPassword is the administrative account's password.
	AdminPassword string `json:"admin_password" yaml:"admin_password"`
}

// DeployConfig holds the per-step deployment commands. Each command runs
// through the shell in the site's directory; the specific tools (composer,
// npm, a migration runner) are deliberately pluggable.
type DeployConfig struct {
	// DefaultBranch is deployed when no branch argument is given.
	DefaultBranch string `json:"default_branch" yaml:"default_branch"`

	// InstallDeps installs the application's declared dependencies.
	InstallDeps string `json:"install_deps" yaml:"install_deps"`

	// BuildAssets installs and builds front-end assets.
	BuildAssets string `json:"build_assets" yaml:"build_assets"`

	// Migrate applies pending schema migrations.
	Migrate string `json:"migrate" yaml:"migrate"`

	// RestartWorkers signals long-running background workers to restart.
	RestartWorkers string `json:"restart_workers" yaml:"restart_workers"`

	// InvalidateCaches invalidates derived caches.
	InvalidateCaches string `json:"invalidate_caches" yaml:"invalidate_caches"`

	// RuntimeService is the shared runtime service reloaded under the lock.
	RuntimeService string `json:"runtime_service" yaml:"runtime_service"`
}

// CertificateConfig configures certificate issuance.
type CertificateConfig struct {
	// Contact is the registration contact address passed to the CA client.
	Contact string `json:"contact" yaml:"contact" validate:"omitempty,email"`
}

// Default returns the built-in configuration for a Debian-family host.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			WebRoot:        "/var/www",
			CredentialDir:  "/var/lib/siteforge/credentials",
			SitesAvailable: "/etc/nginx/sites-available",
			SitesEnabled:   "/etc/nginx/sites-enabled",
			UnitDir:        "/etc/systemd/system",
			ReloadLock:     "/run/siteforge/reload.lock",
			StateDB:        "/var/lib/siteforge/state.db",
			CertLiveDir:    "/etc/letsencrypt/live",
		},
		Database: DatabaseConfig{
			Backend:   "mysql",
			Host:      "127.0.0.1",
			Port:      3306,
			AdminUser: "root",
		},
		Deploy: DeployConfig{
			DefaultBranch:    "main",
			InstallDeps:      "composer install --no-dev --no-interaction --prefer-dist",
			BuildAssets:      "npm ci && npm run build",
			Migrate:          "php artisan migrate --force",
			RestartWorkers:   "php artisan queue:restart",
			InvalidateCaches: "php artisan cache:clear",
			RuntimeService:   "php8.3-fpm",
		},
		ReloadLockTimeout: Duration(10 * time.Second),
		Logging:           telemetry.DefaultLoggingConfig(),
		Metrics:           telemetry.DefaultMetricsConfig(),
		Tracing:           telemetry.DefaultTracingConfig(),
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
