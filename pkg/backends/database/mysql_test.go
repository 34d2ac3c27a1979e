package database

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/siteforge/siteforge/pkg/credentials"
)

func setupMockMySQL(t *testing.T) (*MySQL, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQL(db), mock
}

// TestDatabaseNameFor tests the deterministic name derivation
func TestDatabaseNameFor(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"shop.example.com", "shop_example_com"},
		{"my-app.example.com", "my_app_example_com"},
		{"example.com", "example_com"},
	}

	for _, tt := range tests {
		if got := DatabaseNameFor(tt.domain); got != tt.want {
			t.Errorf("DatabaseNameFor(%q) = %q, want %q", tt.domain, got, tt.want)
		}
	}
}

// TestMySQLDatabaseExists tests the catalog probe
func TestMySQLDatabaseExists(t *testing.T) {
	backend, mock := setupMockMySQL(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT SCHEMA_NAME FROM information_schema.SCHEMATA").
		WithArgs("shop_example_com").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}).AddRow("shop_example_com"))

	exists, err := backend.DatabaseExists(ctx, "shop_example_com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected the database to exist")
	}

	mock.ExpectQuery("SELECT SCHEMA_NAME FROM information_schema.SCHEMATA").
		WithArgs("missing_db").
		WillReturnRows(sqlmock.NewRows([]string{"SCHEMA_NAME"}))

	exists, err = backend.DatabaseExists(ctx, "missing_db")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("expected the database to be absent")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestMySQLUserExists tests the user probe
func TestMySQLUserExists(t *testing.T) {
	backend, mock := setupMockMySQL(t)

	mock.ExpectQuery("SELECT User FROM mysql.user").
		WithArgs("sf_123456").
		WillReturnRows(sqlmock.NewRows([]string{"User"}).AddRow("sf_123456"))

	exists, err := backend.UserExists(context.Background(), "sf_123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected the user to exist")
	}
}

// TestMySQLProvisionSequence tests create database, user, and grant
func TestMySQLProvisionSequence(t *testing.T) {
	backend, mock := setupMockMySQL(t)
	ctx := context.Background()

	cred := credentials.Credential{
		Site:     "shop.example.com",
		Database: "shop_example_com",
		Username: "sf_123456",
		Password: "s3cretPassw0rd",
	}

	mock.ExpectExec("CREATE DATABASE `shop_example_com` CHARACTER SET utf8mb4").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE USER 'sf_123456'@'localhost' IDENTIFIED BY").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("GRANT ALL PRIVILEGES ON `shop_example_com`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("FLUSH PRIVILEGES").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := backend.CreateDatabase(ctx, cred.Database); err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := backend.CreateUser(ctx, cred); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if err := backend.Grant(ctx, cred); err != nil {
		t.Fatalf("failed to grant: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestRemediationForNamesDatabase tests that the remediation text is literal
func TestRemediationForNamesDatabase(t *testing.T) {
	for _, backend := range []string{"mysql", "postgres"} {
		text := RemediationFor(backend, "shop_example_com")
		if text == "" {
			t.Errorf("%s: empty remediation", backend)
		}
		for _, want := range []string{"DROP DATABASE", "shop_example_com", "credential record"} {
			if !strings.Contains(text, want) {
				t.Errorf("%s: remediation lacks %q: %q", backend, want, text)
			}
		}
	}
}

// TestUserRemediationForNamesUser tests the leftover-user remediation text
func TestUserRemediationForNamesUser(t *testing.T) {
	for backend, want := range map[string]string{
		"mysql":    "DROP USER",
		"postgres": "DROP ROLE",
	} {
		text := UserRemediationFor(backend, "sf_123456")
		if !strings.Contains(text, want) || !strings.Contains(text, "sf_123456") {
			t.Errorf("%s: remediation lacks %q or the username: %q", backend, want, text)
		}
	}
}
