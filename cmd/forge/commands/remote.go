package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/config"
	"github.com/siteforge/siteforge/pkg/telemetry"
	"github.com/siteforge/siteforge/pkg/transports/ssh"
)

func newRemoteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run workflows on another host over SSH",
	}

	cmd.AddCommand(newRemoteDeployCommand())

	return cmd
}

func newRemoteDeployCommand() *cobra.Command {
	var (
		host       string
		port       int
		user       string
		keyPath    string
		knownHosts string
		branch     string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deploy <domain>",
		Short: "Trigger a deployment on a remote host",
		Long: `Trigger 'forge deploy' for a site on a remote host over SSH.

The remote command's output streams back, and its exit code becomes this
process's exit code, so a CI job calling this sees exactly what it would
see running forge on the host itself.`,
		Example: `  # Deploy the default branch on the target host
  forge remote deploy shop.example.com --host web1.example.com --user deploy

  # Deploy a specific branch
  forge remote deploy shop.example.com --host web1.example.com --user deploy \
    --branch release/2.4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}
			logger, err := telemetry.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}

			sshCfg := ssh.DefaultConfig(host, user)
			if port != 0 {
				sshCfg.Port = port
			}
			if keyPath != "" {
				sshCfg.PrivateKeyPath = keyPath
			}
			if knownHosts != "" {
				sshCfg.KnownHostsPath = knownHosts
			}
			if timeout > 0 {
				sshCfg.ConnectTimeout = timeout
			}

			client, err := ssh.NewClient(sshCfg, logger)
			if err != nil {
				return err
			}
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			code, err := client.TriggerDeploy(cmd.Context(), args[0], branch, os.Stdout, os.Stderr)
			if err != nil {
				return err
			}
			if code != 0 {
				return &remoteExitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "remote host")
	cmd.Flags().IntVar(&port, "port", 0, "remote SSH port (default 22)")
	cmd.Flags().StringVar(&user, "user", "", "remote SSH user")
	cmd.Flags().StringVar(&keyPath, "key", "", "private key path")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file path")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to deploy")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "connect timeout")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("user")

	return cmd
}
