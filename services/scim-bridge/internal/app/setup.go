package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the identity store tables",
	Long:  "Creates the users and metrics tables and bootstraps the provisioning counters. Safe to run repeatedly.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		// Run migrations
		fmt.Fprintln(cmd.OutOrStdout(), "Running migrations...")
		if err := env.store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		counters, err := env.store.Counters(ctx)
		if err != nil {
			return fmt.Errorf("failed to read counters: %w", err)
		}
		for _, c := range counters {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %d\n", c.Name, c.Value)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Identity store ready at %s\n", env.cfg.Database.URL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
