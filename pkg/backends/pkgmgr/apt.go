// Package pkgmgr wraps the system package manager behind typed probes and
// installs. Only the Debian/apt family is implemented; other managers plug
// in behind the same command.Runner seam.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/siteforge/siteforge/pkg/command"
)

// Apt manages packages through apt-get and dpkg-query.
type Apt struct {
	runner command.Runner
}

// New returns an apt-backed package manager.
func New(runner command.Runner) *Apt {
	return &Apt{runner: runner}
}

// Installed reports whether the package is installed, probing dpkg's status
// database instead of parsing human-oriented apt output.
func (a *Apt) Installed(ctx context.Context, pkg string) (bool, error) {
	res, err := a.runner.Run(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
	if err != nil {
		return false, fmt.Errorf("failed to query package %q: %w", pkg, err)
	}
	// Unknown packages exit non-zero; that just means not installed.
	if !res.Success() {
		return false, nil
	}
	return strings.Contains(res.Stdout, "install ok installed"), nil
}

// Install installs the packages non-interactively. apt-get install is
// naturally idempotent for already-installed packages.
func (a *Apt) Install(ctx context.Context, pkgs ...string) error {
	args := append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)
	res, err := a.runner.Run(ctx, "apt-get", args...)
	if err != nil {
		return fmt.Errorf("failed to run apt-get install: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("apt-get install exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Update refreshes the package index.
func (a *Apt) Update(ctx context.Context) error {
	res, err := a.runner.Run(ctx, "apt-get", "update")
	if err != nil {
		return fmt.Errorf("failed to run apt-get update: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("apt-get update exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
