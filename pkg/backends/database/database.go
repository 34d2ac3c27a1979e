// Package database provisions per-site databases and users. Probes return
// structured typed results from catalog queries rather than parsing command
// output, so swapping MySQL for Postgres needs no caller changes.
package database

import (
	"context"
	"fmt"

	"github.com/siteforge/siteforge/pkg/credentials"
)

// Probe reads live backend state without mutating it.
type Probe interface {
	// Ping verifies the backend is reachable with the admin connection.
	Ping(ctx context.Context) error

	// DatabaseExists reports whether the named database exists.
	DatabaseExists(ctx context.Context, name string) (bool, error)

	// UserExists reports whether the named user exists.
	UserExists(ctx context.Context, name string) (bool, error)
}

// Provisioner mutates backend state. CreateDatabase and CreateUser are
// non-repeatable applies routed through the idempotency guard; Grant is
// naturally idempotent and re-applied unconditionally.
type Provisioner interface {
	Probe

	// CreateDatabase creates the named database.
	CreateDatabase(ctx context.Context, name string) error

	// CreateUser creates the user with the given password.
	CreateUser(ctx context.Context, cred credentials.Credential) error

	// Grant grants the credential's user full privileges on its database.
	Grant(ctx context.Context, cred credentials.Credential) error

	// Close releases the admin connection.
	Close() error
}

// DatabaseNameFor derives the deterministic database name for a domain:
// dots and dashes become underscores ("a.example.com" -> "a_example_com").
func DatabaseNameFor(domain string) string {
	name := make([]byte, 0, len(domain))
	for i := 0; i < len(domain); i++ {
		switch c := domain[i]; c {
		case '.', '-':
			name = append(name, '_')
		default:
			name = append(name, c)
		}
	}
	return string(name)
}

// RemediationFor renders the literal operator remediation printed when a
// database exists without a credential record.
func RemediationFor(backend, dbName string) string {
	switch backend {
	case "postgres":
		return fmt.Sprintf("either drop the database (psql -c 'DROP DATABASE %s;') and re-run, or restore the credential record file for this site", dbName)
	default:
		return fmt.Sprintf("either drop the database (mysql -e 'DROP DATABASE `%s`;') and re-run, or restore the credential record file for this site", dbName)
	}
}

// UserRemediationFor renders the remediation printed when a recorded user
// outlived its database: a half-removed site is never rebuilt over.
func UserRemediationFor(backend, username string) string {
	switch backend {
	case "postgres":
		return fmt.Sprintf("drop the leftover user (psql -c 'DROP ROLE %s;') and re-run", username)
	default:
		return fmt.Sprintf("drop the leftover user (mysql -e \"DROP USER '%s'@'localhost';\") and re-run", username)
	}
}
