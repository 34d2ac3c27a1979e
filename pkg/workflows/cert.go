package workflows

import (
	"context"
	"path/filepath"

	"github.com/siteforge/siteforge/pkg/backends/certificate"
	"github.com/siteforge/siteforge/pkg/backends/webserver"
	"github.com/siteforge/siteforge/pkg/engine"
)

// ObtainCertificate requests a TLS certificate for a registered site and
// upgrades its vhost to HTTPS. Issuance is probed by the live certificate's
// existence, so re-running is a skip. The vhost upgrade keeps the usual
// write/validate/activate discipline with rollback on a failed validation.
func ObtainCertificate(ctx context.Context, env *Env, domain, contact string) (*engine.RunReport, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	cfg := env.Config
	nginx := webserver.New(env.Runner, cfg.Paths.SitesAvailable, cfg.Paths.SitesEnabled)
	certbot := certificate.New(env.Runner, cfg.Paths.CertLiveDir)

	// The webroot challenge needs the site's vhost serving HTTP already.
	hasVHost, err := nginx.VHostExists(domain)
	if err != nil {
		return nil, err
	}
	if !hasVHost {
		return nil, engine.NewPrereqMissingError(
			"site has no web server configuration; run 'forge site register' first", nil)
	}

	if contact == "" {
		contact = cfg.Certificate.Contact
	}
	webroot := filepath.Join(cfg.Paths.WebRoot, domain, "public")

	tlsVHost := vhostFor(cfg, domain)
	tlsVHost.TLS = true
	tlsVHost.CertPath = certbot.CertPath(domain)
	tlsVHost.KeyPath = certbot.KeyPath(domain)

	steps := []engine.Step{
		&engine.FuncStep{
			StepName: "certificate",
			ProbeFn: func(ctx context.Context) (bool, error) {
				return certbot.Obtained(domain)
			},
			ApplyFn: func(ctx context.Context) error {
				if err := certbot.Obtain(ctx, domain, webroot, contact); err != nil {
					return engine.NewApplyFailedError("certificate issuance failed", err).WithResource(domain)
				}
				return nil
			},
		},
		vhostStep(nginx, tlsVHost),
	}

	return env.engineRunner().Run(ctx, "cert-obtain", domain, steps)
}

// RenewCertificates renews every certificate close to expiry and reloads the
// web server so renewed material is served.
func RenewCertificates(ctx context.Context, env *Env) (*engine.RunReport, error) {
	cfg := env.Config
	nginx := webserver.New(env.Runner, cfg.Paths.SitesAvailable, cfg.Paths.SitesEnabled)
	certbot := certificate.New(env.Runner, cfg.Paths.CertLiveDir)

	steps := []engine.Step{
		&engine.FuncStep{
			StepName: "renew",
			ApplyFn: func(ctx context.Context) error {
				return certbot.Renew(ctx)
			},
		},
		&engine.FuncStep{
			StepName: "reload",
			ApplyFn: func(ctx context.Context) error {
				return nginx.Reload(ctx)
			},
		},
	}

	return env.engineRunner().Run(ctx, "cert-renew", "", steps)
}
