package commands

import (
	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/workflows"
)

func newDeployCommand() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "deploy <domain>",
		Short: "Deploy an application release to a registered site",
		Long: `Deploy the application running at a registered site.

This command:
  - Fetches and checks out the requested branch
  - Installs dependencies and builds assets
  - Reloads the shared runtime under the bounded reload lock
  - Applies schema migrations and invalidates caches
  - Starts the background worker on first deploy, restarts it afterwards

A failing step aborts the remainder; its exit code propagates as the process
exit code. Completed steps stay in place; the fix for a bad deploy is the
next deploy.`,
		Example: `  # Deploy the configured default branch
  forge deploy shop.example.com

  # Deploy a specific branch
  forge deploy shop.example.com --branch release/2.4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := workflows.Deploy(cmd.Context(), env, args[0], branch)
			printReport(report)
			return err
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to deploy (default from config)")

	return cmd
}
