// Package webserver generates and activates per-site nginx configuration.
// A vhost is written, syntax-validated, and only then made live; the reload
// never runs against unvalidated configuration.
package webserver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/siteforge/siteforge/pkg/command"
)

// VHost is the data rendered into a per-site server block.
type VHost struct {
	// Domain is the site's primary domain.
	Domain string

	// DocumentRoot is the site's public directory.
	DocumentRoot string

	// AccessLog and ErrorLog are the per-site log paths.
	AccessLog string
	ErrorLog  string

	// RuntimeSocket is the FastCGI socket of the shared runtime pool.
	RuntimeSocket string

	// TLS switches the server block to HTTPS with the given material.
	TLS      bool
	CertPath string
	KeyPath  string
}

var vhostTemplate = template.Must(template.New("vhost").Parse(`server {
{{- if .TLS }}
    listen 443 ssl;
    listen [::]:443 ssl;
    ssl_certificate     {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
{{- else }}
    listen 80;
    listen [::]:80;
{{- end }}
    server_name {{ .Domain }};
    root {{ .DocumentRoot }};
    index index.php index.html;

    access_log {{ .AccessLog }};
    error_log  {{ .ErrorLog }};

    location /.well-known/acme-challenge/ {
        allow all;
    }

    location / {
        try_files $uri $uri/ /index.php?$query_string;
    }

    location ~ \.php$ {
        include fastcgi_params;
        fastcgi_pass unix:{{ .RuntimeSocket }};
        fastcgi_param SCRIPT_FILENAME $document_root$fastcgi_script_name;
    }
}
{{- if .TLS }}

server {
    listen 80;
    listen [::]:80;
    server_name {{ .Domain }};
    return 301 https://$host$request_uri;
}
{{- end }}
`))

// Nginx manages per-site vhost files and the nginx service.
type Nginx struct {
	runner         command.Runner
	sitesAvailable string
	sitesEnabled   string
}

// New returns an nginx backend over the given config directories.
func New(runner command.Runner, sitesAvailable, sitesEnabled string) *Nginx {
	return &Nginx{
		runner:         runner,
		sitesAvailable: sitesAvailable,
		sitesEnabled:   sitesEnabled,
	}
}

// VHostPath returns the sites-available path for a domain.
func (n *Nginx) VHostPath(domain string) string {
	return filepath.Join(n.sitesAvailable, domain+".conf")
}

// enabledPath returns the sites-enabled symlink path for a domain.
func (n *Nginx) enabledPath(domain string) string {
	return filepath.Join(n.sitesEnabled, domain+".conf")
}

// Render produces the vhost file contents.
func (n *Nginx) Render(v VHost) ([]byte, error) {
	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("failed to render vhost for %s: %w", v.Domain, err)
	}
	return buf.Bytes(), nil
}

// Snapshot captures the current vhost file for rollback. A nil snapshot
// means no previous file existed; Restore then removes the file entirely.
func (n *Nginx) Snapshot(domain string) ([]byte, error) {
	data, err := os.ReadFile(n.VHostPath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to snapshot vhost: %w", err)
	}
	return data, nil
}

// WriteVHost writes the rendered vhost file.
func (n *Nginx) WriteVHost(domain string, content []byte) error {
	if err := os.WriteFile(n.VHostPath(domain), content, 0644); err != nil {
		return fmt.Errorf("failed to write vhost: %w", err)
	}
	return nil
}

// Restore puts back the pre-apply vhost state from a snapshot.
func (n *Nginx) Restore(domain string, snapshot []byte) error {
	path := n.VHostPath(domain)
	if snapshot == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove invalid vhost: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to restore vhost: %w", err)
	}
	return nil
}

// Validate runs the web server's configuration syntax check.
func (n *Nginx) Validate(ctx context.Context) error {
	res, err := n.runner.Run(ctx, "nginx", "-t")
	if err != nil {
		return fmt.Errorf("failed to run nginx -t: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("nginx configuration test failed: %s", res.Stderr)
	}
	return nil
}

// Enable symlinks the vhost into sites-enabled. Idempotent.
func (n *Nginx) Enable(domain string) error {
	link := n.enabledPath(domain)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.Symlink(n.VHostPath(domain), link); err != nil {
		return fmt.Errorf("failed to enable vhost: %w", err)
	}
	return nil
}

// Reload reloads the nginx service. Only called after Validate passed.
func (n *Nginx) Reload(ctx context.Context) error {
	res, err := n.runner.Run(ctx, "systemctl", "reload", "nginx")
	if err != nil {
		return fmt.Errorf("failed to reload nginx: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("nginx reload exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// Active reports whether the nginx service is running. Read-only, used by
// the verification pass.
func (n *Nginx) Active(ctx context.Context) (bool, error) {
	res, err := n.runner.Run(ctx, "systemctl", "is-active", "--quiet", "nginx")
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// VHostExists reports whether a vhost file has been written for the domain.
func (n *Nginx) VHostExists(domain string) (bool, error) {
	_, err := os.Stat(n.VHostPath(domain))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
