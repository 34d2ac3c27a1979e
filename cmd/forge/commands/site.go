package commands

import (
	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/workflows"
)

func newSiteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage sites",
	}

	cmd.AddCommand(newSiteRegisterCommand())

	return cmd
}

func newSiteRegisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <domain>",
		Short: "Register a new site",
		Long: `Register a new site on the host.

This command:
  - Creates the site's document root and log directories
  - Creates the site's database and user, and records the credentials
  - Writes, validates, and activates the web server vhost
  - Writes the inert background worker unit

The database step is guarded: if the database already exists but this tool
has no credential record for it, the run stops and prints the exact commands
to resolve the conflict. Re-running for an already-registered domain skips
the guarded steps.`,
		Example: `  # Register a site
  forge site register shop.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := workflows.RegisterSite(cmd.Context(), env, args[0])
			printReport(report)
			return err
		},
	}

	return cmd
}
