package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver

	"github.com/siteforge/siteforge/pkg/credentials"
)

// Postgres implements Provisioner against a PostgreSQL server.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens an admin connection to the server.
func OpenPostgres(host string, port int, adminUser, adminPassword string) (*Postgres, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=disable",
		host, port, adminUser, adminPassword)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing connection. Used by tests with sqlmock.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Ping implements Probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DatabaseExists implements Probe via pg_database.
func (p *Postgres) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := p.db.QueryRowContext(ctx,
		"SELECT datname FROM pg_database WHERE datname = $1", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe database %q: %w", name, err)
	}
	return true, nil
}

// UserExists implements Probe via pg_roles.
func (p *Postgres) UserExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := p.db.QueryRowContext(ctx,
		"SELECT rolname FROM pg_roles WHERE rolname = $1", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe role %q: %w", name, err)
	}
	return true, nil
}

// CreateDatabase implements Provisioner. CREATE DATABASE cannot be
// parameterized, so the name is interpolated; it is derived from a
// validated domain and never contains quoting hazards.
func (p *Postgres) CreateDatabase(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(`CREATE DATABASE "%s" ENCODING 'UTF8'`, name)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// CreateUser implements Provisioner.
func (p *Postgres) CreateUser(ctx context.Context, cred credentials.Credential) error {
	stmt := fmt.Sprintf(`CREATE ROLE "%s" LOGIN PASSWORD '%s'`,
		cred.Username, cred.Password)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create role %q: %w", cred.Username, err)
	}
	return nil
}

// Grant implements Provisioner.
func (p *Postgres) Grant(ctx context.Context, cred credentials.Credential) error {
	stmt := fmt.Sprintf(`GRANT ALL PRIVILEGES ON DATABASE "%s" TO "%s"`,
		cred.Database, cred.Username)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to grant privileges to %q: %w", cred.Username, err)
	}
	return nil
}

// Close implements Provisioner.
func (p *Postgres) Close() error {
	return p.db.Close()
}
