package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/workflows"
)

func newVerifyCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the read-only verification pass",
		Long: `Run the verification pass against the base environment.

Every check runs regardless of earlier failures; the exit code is non-zero
when any check fails. With --watch the pass re-runs whenever a watched
configuration directory changes, until interrupted.`,
		Example: `  # One-shot verification
  forge verify

  # Re-verify on configuration changes
  forge verify --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			report := workflows.VerifyBase(cmd.Context(), env)
			printVerification(report)

			if !watch {
				return verificationError(report)
			}
			return watchAndVerify(cmd.Context(), env)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run verification on configuration changes")

	return cmd
}

// watchAndVerify re-runs the verification pass when a watched directory
// changes. Events are debounced so a burst of writes triggers one pass.
func watchAndVerify(ctx context.Context, env *workflows.Env) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	paths := []string{
		env.Config.Paths.SitesAvailable,
		env.Config.Paths.SitesEnabled,
		env.Config.Paths.CredentialDir,
		env.Config.Paths.UnitDir,
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			env.Logger.WithError(err).Warnf("not watching %s", path)
		}
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			env.Logger.WithError(err).Warn("watch error")
		case <-fire:
			timer = nil
			fire = nil
			fmt.Println()
			printVerification(workflows.VerifyBase(ctx, env))
		}
	}
}
