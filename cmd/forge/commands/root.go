// Package commands implements the forge CLI. Every workflow maps to one
// subcommand; the process exit code encodes the failure class so remote
// triggers and cron wrappers can branch on it.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/command"
	"github.com/siteforge/siteforge/pkg/engine"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Exit codes by failure class. A deploy step that fails with a command exit
// code propagates that code verbatim instead.
const (
	exitOK                 = 0
	exitGeneric            = 1
	exitValidation         = 2
	exitPrereqMissing      = 3
	exitUnrecoverableState = 4
	exitApplyFailed        = 5
	exitLockTimeout        = 6
	exitVerification       = 7
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		reportError(err)
		return exitCodeFor(err)
	}
	return exitOK
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "siteforge - idempotent multi-tenant web host provisioning",
		Long: `siteforge provisions and deploys sites on a shared web host.

Every workflow is an ordered list of idempotent steps: each step probes the
current state before mutating it, so re-running a workflow after a partial
failure skips what already exists and applies only what is missing.

Workflows:
  setup    provision the base environment (packages, services, directories)
  site     register a site (docroot, database, vhost, worker unit)
  cert     obtain or renew TLS certificates
  deploy   deploy an application release to a registered site
  verify   run the read-only verification pass
  runs     inspect recorded workflow runs
  remote   trigger a deployment on another host over SSH`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newSiteCommand())
	rootCmd.AddCommand(newCertCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newRemoteCommand())

	return rootCmd
}

// reportError prints the failure to stderr. Unrecoverable conflicts carry the
// exact remediation commands; those are printed verbatim so the operator can
// copy them.
func reportError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if remediation := engine.Remediation(err); remediation != "" {
		fmt.Fprintf(os.Stderr, "\nTo resolve, run:\n%s\n", remediation)
	}
}

// exitCodeFor maps an error to the process exit code. Command exit codes from
// deploy steps pass through opaquely.
func exitCodeFor(err error) int {
	var cmdErr *command.ExitError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode()
	}
	switch {
	case engine.IsValidation(err):
		return exitValidation
	case engine.IsPrereqMissing(err):
		return exitPrereqMissing
	case engine.IsUnrecoverableState(err):
		return exitUnrecoverableState
	case engine.IsApplyFailed(err):
		return exitApplyFailed
	case engine.IsLockTimeout(err):
		return exitLockTimeout
	case engine.IsVerification(err):
		return exitVerification
	}
	var verifyErr *verificationFailedError
	if errors.As(err, &verifyErr) {
		return exitVerification
	}
	var remoteErr *remoteExitError
	if errors.As(err, &remoteErr) {
		return remoteErr.code
	}
	return exitGeneric
}

// verificationFailedError turns a failed verification pass into a non-zero
// exit without masquerading as a step failure.
type verificationFailedError struct {
	failed int
}

func (e *verificationFailedError) Error() string {
	return fmt.Sprintf("verification failed: %d check(s) did not pass", e.failed)
}

// remoteExitError carries a remote command's exit code through cobra.
type remoteExitError struct {
	code int
}

func (e *remoteExitError) Error() string {
	return fmt.Sprintf("remote command exited %d", e.code)
}
