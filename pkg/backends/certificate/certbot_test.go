package certificate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/siteforge/siteforge/pkg/command"
)

// TestObtained tests the on-disk issuance probe
func TestObtained(t *testing.T) {
	liveDir := t.TempDir()
	certbot := New(command.NewFakeRunner(), liveDir)

	obtained, err := certbot.Obtained("shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obtained {
		t.Error("reported as obtained before issuance")
	}

	certDir := filepath.Join(liveDir, "shop.example.com")
	if err := os.MkdirAll(certDir, 0755); err != nil {
		t.Fatalf("failed to create live dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(certDir, "fullchain.pem"), []byte("cert"), 0644); err != nil {
		t.Fatalf("failed to write certificate: %v", err)
	}

	obtained, err = certbot.Obtained("shop.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !obtained {
		t.Error("reported as not obtained after issuance")
	}
}

// TestObtainInvocation tests the webroot challenge command line
func TestObtainInvocation(t *testing.T) {
	fake := command.NewFakeRunner()
	certbot := New(fake, t.TempDir())

	err := certbot.Obtain(context.Background(), "shop.example.com",
		"/var/www/shop.example.com/public", "ops@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "certbot certonly --webroot -w /var/www/shop.example.com/public " +
		"-d shop.example.com --non-interactive --agree-tos -m ops@example.com"
	if !fake.Called(want) {
		t.Errorf("unexpected certbot invocation: %v", fake.Calls)
	}
}

// TestObtainWithoutContact tests the unsafe-registration fallback
func TestObtainWithoutContact(t *testing.T) {
	fake := command.NewFakeRunner()
	certbot := New(fake, t.TempDir())

	if err := certbot.Obtain(context.Background(), "shop.example.com", "/srv/www", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.CallCount("certbot") != 1 {
		t.Fatalf("expected 1 certbot call, got %d", fake.CallCount("certbot"))
	}
	call := fake.Calls[0]
	if !strings.Contains(call, "--register-unsafely-without-email") {
		t.Errorf("missing registration fallback flag: %s", call)
	}
	if strings.Contains(call, "-m ") {
		t.Errorf("contact flag present without a contact: %s", call)
	}
}

// TestObtainFailure tests that a certbot failure is surfaced
func TestObtainFailure(t *testing.T) {
	fake := command.NewFakeRunner()
	fake.Stub("certbot certonly --webroot -w /srv/www -d shop.example.com --non-interactive --agree-tos --register-unsafely-without-email",
		command.Result{ExitCode: 1, Stderr: "challenge failed"})
	certbot := New(fake, t.TempDir())

	if err := certbot.Obtain(context.Background(), "shop.example.com", "/srv/www", ""); err == nil {
		t.Fatal("expected an error")
	}
}
