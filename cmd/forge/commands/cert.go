package commands

import (
	"github.com/spf13/cobra"

	"github.com/siteforge/siteforge/pkg/workflows"
)

func newCertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Manage TLS certificates",
	}

	cmd.AddCommand(newCertObtainCommand())
	cmd.AddCommand(newCertRenewCommand())

	return cmd
}

func newCertObtainCommand() *cobra.Command {
	var contact string

	cmd := &cobra.Command{
		Use:   "obtain <domain>",
		Short: "Obtain a TLS certificate for a registered site",
		Long: `Obtain a TLS certificate and upgrade the site's vhost to HTTPS.

Issuance uses the webroot challenge, so the site must already be registered
and serving HTTP. A site that already holds a live certificate is a skip.`,
		Example: `  # Obtain with the configured contact address
  forge cert obtain shop.example.com

  # Override the contact address
  forge cert obtain shop.example.com --contact ops@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := workflows.ObtainCertificate(cmd.Context(), env, args[0], contact)
			printReport(report)
			return err
		},
	}

	cmd.Flags().StringVar(&contact, "contact", "", "registration contact address")

	return cmd
}

func newCertRenewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew certificates close to expiry",
		Long: `Renew every certificate close to expiry and reload the web server.

Intended to run from cron or a systemd timer.`,
		Example: `  forge cert renew`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := buildEnv(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := workflows.RenewCertificates(cmd.Context(), env)
			printReport(report)
			return err
		},
	}

	return cmd
}
