// Package supervisor generates and manages per-site background-worker units
// under systemd. A rendered unit is inert until explicitly registered; on
// deployment the worker is started the first time and restarted afterwards,
// and which of the two happened is recorded.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/siteforge/siteforge/pkg/command"
)

// Action is what the supervisor did to a worker during a deployment.
type Action string

const (
	// ActionStart means the unit was registered and started for the first time.
	ActionStart Action = "start"

	// ActionRestart means an existing unit was restarted.
	ActionRestart Action = "restart"
)

// UnitSpec is the data rendered into a worker unit file.
type UnitSpec struct {
	// Site is the owning site's domain.
	Site string

	// Command is the worker command line.
	Command string

	// WorkingDir is the worker's working directory.
	WorkingDir string

	// User is the account the worker runs as.
	User string

	// StopSignal is the signal sent on stop (default SIGTERM).
	StopSignal string

	// StopTimeoutSec is how long systemd waits before SIGKILL.
	StopTimeoutSec int
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=siteforge worker for {{ .Site }}
After=network.target

[Service]
Type=simple
User={{ .User }}
WorkingDirectory={{ .WorkingDir }}
ExecStart={{ .Command }}
Restart=always
RestartSec=3
KillSignal={{ .StopSignal }}
TimeoutStopSec={{ .StopTimeoutSec }}
StandardOutput=append:/var/log/siteforge/{{ .Site }}-worker.log
StandardError=inherit
LogRateLimitIntervalSec=30
LogRateLimitBurst=1000

[Install]
WantedBy=multi-user.target
`))

// Systemd manages per-site worker units.
type Systemd struct {
	runner  command.Runner
	unitDir string
}

// New returns a systemd-backed supervisor.
func New(runner command.Runner, unitDir string) *Systemd {
	return &Systemd{runner: runner, unitDir: unitDir}
}

// UnitName returns the unit name for a site's worker.
func UnitName(domain string) string {
	return "siteforge-worker-" + domain + ".service"
}

// unitPath returns the unit file path for a site.
func (s *Systemd) unitPath(domain string) string {
	return filepath.Join(s.unitDir, "siteforge-worker-"+domain+".service")
}

// Render produces the unit file contents, filling defaults.
func (s *Systemd) Render(spec UnitSpec) ([]byte, error) {
	if spec.StopSignal == "" {
		spec.StopSignal = "SIGTERM"
	}
	if spec.StopTimeoutSec == 0 {
		spec.StopTimeoutSec = 30
	}
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("failed to render unit for %s: %w", spec.Site, err)
	}
	return buf.Bytes(), nil
}

// WriteUnit writes the rendered unit file. The unit stays inert until
// Register runs daemon-reload and enables it.
func (s *Systemd) WriteUnit(spec UnitSpec) error {
	content, err := s.Render(spec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.unitPath(spec.Site), content, 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}
	return nil
}

// Registered reports whether the site's unit file has been written.
func (s *Systemd) Registered(domain string) (bool, error) {
	_, err := os.Stat(s.unitPath(domain))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Enabled reports whether systemd knows the unit. Registration writes the
// unit file without a daemon-reload, so the file's existence alone does not
// mean systemd can start it.
func (s *Systemd) Enabled(ctx context.Context, domain string) (bool, error) {
	res, err := s.runner.Run(ctx, "systemctl", "is-enabled", "--quiet", s.serviceName(domain))
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// Register reloads the daemon, enables, and starts the unit.
func (s *Systemd) Register(ctx context.Context, domain string) error {
	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", s.serviceName(domain)},
		{"start", s.serviceName(domain)},
	} {
		res, err := s.runner.Run(ctx, "systemctl", args...)
		if err != nil {
			return fmt.Errorf("failed to run systemctl %s: %w", args[0], err)
		}
		if !res.Success() {
			return fmt.Errorf("systemctl %s exited %d: %s", args[0], res.ExitCode, res.Stderr)
		}
	}
	return nil
}

// Restart restarts the already-registered unit.
func (s *Systemd) Restart(ctx context.Context, domain string) error {
	res, err := s.runner.Run(ctx, "systemctl", "restart", s.serviceName(domain))
	if err != nil {
		return fmt.Errorf("failed to restart worker: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("worker restart exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Ensure registers the worker on first deployment and restarts it on every
// later one, returning which action was taken.
func (s *Systemd) Ensure(ctx context.Context, spec UnitSpec) (Action, error) {
	written, err := s.Registered(spec.Site)
	if err != nil {
		return "", err
	}
	if !written {
		if err := s.WriteUnit(spec); err != nil {
			return "", err
		}
	}

	// Site registration writes the unit file but leaves it inert, so the
	// file's existence cannot distinguish the first deployment. Whether
	// systemd has the unit enabled can.
	enabled, err := s.Enabled(ctx, spec.Site)
	if err != nil {
		return "", err
	}

	if !enabled {
		if err := s.Register(ctx, spec.Site); err != nil {
			return "", err
		}
		return ActionStart, nil
	}

	if err := s.Restart(ctx, spec.Site); err != nil {
		return "", err
	}
	return ActionRestart, nil
}

func (s *Systemd) serviceName(domain string) string {
	return UnitName(domain)
}
