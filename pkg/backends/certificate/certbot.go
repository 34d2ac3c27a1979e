// Package certificate obtains and renews TLS certificates through the
// certbot ACME client. The probe is the live certificate's existence on
// disk, so re-running issuance is a skip, not a duplicate order.
package certificate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siteforge/siteforge/pkg/command"
)

// Certbot wraps the certbot CLI.
type Certbot struct {
	runner  command.Runner
	liveDir string
}

// New returns a certbot-backed certificate client.
func New(runner command.Runner, liveDir string) *Certbot {
	return &Certbot{runner: runner, liveDir: liveDir}
}

// CertPath returns the full-chain certificate path for a domain.
func (c *Certbot) CertPath(domain string) string {
	return filepath.Join(c.liveDir, domain, "fullchain.pem")
}

// KeyPath returns the private key path for a domain.
func (c *Certbot) KeyPath(domain string) string {
	return filepath.Join(c.liveDir, domain, "privkey.pem")
}

// Obtained reports whether a live certificate exists for the domain.
func (c *Certbot) Obtained(domain string) (bool, error) {
	_, err := os.Stat(c.CertPath(domain))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Obtain requests a certificate via the webroot challenge. Non-interactive;
// contact is the CA registration address.
func (c *Certbot) Obtain(ctx context.Context, domain, webroot, contact string) error {
	args := []string{
		"certonly",
		"--webroot", "-w", webroot,
		"-d", domain,
		"--non-interactive",
		"--agree-tos",
	}
	if contact != "" {
		args = append(args, "-m", contact)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}

	res, err := c.runner.Run(ctx, "certbot", args...)
	if err != nil {
		return fmt.Errorf("failed to run certbot: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("certbot exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Renew renews all certificates that are close to expiry.
func (c *Certbot) Renew(ctx context.Context) error {
	res, err := c.runner.Run(ctx, "certbot", "renew", "--non-interactive")
	if err != nil {
		return fmt.Errorf("failed to run certbot renew: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("certbot renew exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}
