package commands

import (
	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/workflows"
)

func newSetupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the base environment",
		Long: `Provision the base environment the host needs before any site exists.

This command:
  - Refreshes the package index and installs the required packages
  - Creates the tool's working directories
  - Enables and starts the web server, database, and cache services
  - Runs the verification pass against the result

Every step probes first, so re-running on an already-provisioned host is a
no-op that still reports the current verification state.`,
		Example: `  # Provision with the built-in defaults
  forge setup

  # Provision against a custom configuration
  forge setup --config /etc/siteforge/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			report, verification, err := workflows.SetupBase(cmd.Context(), env)
			printReport(report)
			if err != nil {
				return err
			}
			printVerification(verification)
			return verificationError(verification)
		},
	}

	return cmd
}
