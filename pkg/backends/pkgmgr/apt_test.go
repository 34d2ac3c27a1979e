package pkgmgr

import (
	"context"
	"testing"

	"github.com/siteforge/siteforge/pkg/command"
)

// TestInstalled tests dpkg status parsing
func TestInstalled(t *testing.T) {
	fake := command.NewFakeRunner()
	apt := New(fake)
	ctx := context.Background()

	fake.Stub("dpkg-query -W -f=${Status} nginx",
		command.Result{ExitCode: 0, Stdout: "install ok installed"})
	fake.Stub("dpkg-query -W -f=${Status} removed-pkg",
		command.Result{ExitCode: 0, Stdout: "deinstall ok config-files"})
	fake.Stub("dpkg-query -W -f=${Status} unknown-pkg",
		command.Result{ExitCode: 1, Stderr: "no packages found matching unknown-pkg"})

	tests := []struct {
		pkg  string
		want bool
	}{
		{"nginx", true},
		{"removed-pkg", false},
		{"unknown-pkg", false},
	}

	for _, tt := range tests {
		installed, err := apt.Installed(ctx, tt.pkg)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.pkg, err)
		}
		if installed != tt.want {
			t.Errorf("Installed(%q) = %v, want %v", tt.pkg, installed, tt.want)
		}
	}
}

// TestInstallNonInteractive tests the install invocation
func TestInstallNonInteractive(t *testing.T) {
	fake := command.NewFakeRunner()
	apt := New(fake)

	if err := apt.Install(context.Background(), "nginx", "certbot"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fake.Called("apt-get install -y --no-install-recommends nginx certbot") {
		t.Errorf("unexpected install invocation: %v", fake.Calls)
	}
}

// TestInstallFailure tests that a non-zero apt exit is surfaced
func TestInstallFailure(t *testing.T) {
	fake := command.NewFakeRunner()
	fake.Stub("apt-get install -y --no-install-recommends broken",
		command.Result{ExitCode: 100, Stderr: "unable to locate package"})
	apt := New(fake)

	if err := apt.Install(context.Background(), "broken"); err == nil {
		t.Fatal("expected an error")
	}
}
