package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/siteforge/siteforge/pkg/credentials"
)

// MySQL implements Provisioner against a MySQL/MariaDB server.
type MySQL struct {
	db *sql.DB
}

// OpenMySQL opens an admin connection to the server.
func OpenMySQL(host string, port int, adminUser, adminPassword string) (*MySQL, error) {
	cfg := mysql.NewConfig()
	cfg.User = adminUser
	cfg.Passwd = adminPassword
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	return &MySQL{db: db}, nil
}

// NewMySQL wraps an existing connection. Used by tests with sqlmock.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

// Ping implements Probe.
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// DatabaseExists implements Probe via information_schema.
func (m *MySQL) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := m.db.QueryRowContext(ctx,
		"SELECT SCHEMA_NAME FROM information_schema.SCHEMATA WHERE SCHEMA_NAME = ?", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe database %q: %w", name, err)
	}
	return true, nil
}

// UserExists implements Probe via mysql.user.
func (m *MySQL) UserExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := m.db.QueryRowContext(ctx,
		"SELECT User FROM mysql.user WHERE User = ? AND Host = 'localhost'", name,
	).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe user %q: %w", name, err)
	}
	return true, nil
}

// CreateDatabase implements Provisioner.
func (m *MySQL) CreateDatabase(ctx context.Context, name string) error {
	stmt := fmt.Sprintf(
		"CREATE DATABASE `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", name)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %q: %w", name, err)
	}
	return nil
}

// CreateUser implements Provisioner.
func (m *MySQL) CreateUser(ctx context.Context, cred credentials.Credential) error {
	stmt := fmt.Sprintf("CREATE USER '%s'@'localhost' IDENTIFIED BY '%s'",
		cred.Username, cred.Password)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create user %q: %w", cred.Username, err)
	}
	return nil
}

// Grant implements Provisioner. GRANT is idempotent, so it re-applies on
// every run without consulting the guard.
func (m *MySQL) Grant(ctx context.Context, cred credentials.Credential) error {
	stmt := fmt.Sprintf("GRANT ALL PRIVILEGES ON `%s`.* TO '%s'@'localhost'",
		cred.Database, cred.Username)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to grant privileges to %q: %w", cred.Username, err)
	}
	if _, err := m.db.ExecContext(ctx, "FLUSH PRIVILEGES"); err != nil {
		return fmt.Errorf("failed to flush privileges: %w", err)
	}
	return nil
}

// Close implements Provisioner.
func (m *MySQL) Close() error {
	return m.db.Close()
}
