package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gitdeployer/internal/security"
)

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Generate a target secret",
	Long: `Print a random secret suitable for a target's "secret" setting. The same
value is used as the GitHub webhook secret and as the bearer token of
POST /deploy/{target}.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		if err := security.ValidateSecret(secret); err != nil {
			return fmt.Errorf("generated secret failed validation: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}
