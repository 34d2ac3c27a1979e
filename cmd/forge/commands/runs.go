package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Inspect recorded workflow runs",
		Long: `List recent workflow runs, or show the step outcomes of one run.

Runs are recorded in the state database with their per-step outcomes, so a
partially failed workflow can be inspected after the fact.`,
		Example: `  # List the 20 most recent runs
  forge runs

  # Show a run's step outcomes
  forge runs 4f0c2f9a-8f4e-4a3e-9a1b-0d6c5b2e7f11`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			if env.Store == nil {
				return fmt.Errorf("state database unavailable")
			}

			if len(args) == 1 {
				steps, err := env.Store.GetRunSteps(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(steps)
					return nil
				}
				for _, step := range steps {
					line := fmt.Sprintf("  %-16s %-14s %s", step.Name, step.Status, step.Detail)
					if step.Error != "" {
						line += "  error: " + step.Error
					}
					fmt.Println(line)
				}
				return nil
			}

			runs, err := env.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(runs)
				return nil
			}
			for _, run := range runs {
				target := run.Resource
				if target == "" {
					target = "host"
				}
				fmt.Printf("%s  %-14s %-24s %-10s %s\n",
					run.ID, run.Workflow, target, run.Status,
					run.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")

	return cmd
}
