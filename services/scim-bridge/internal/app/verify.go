package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stoik/mailbridge/services/scim-bridge/internal/provisioning"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare stored identities with their mailboxes",
	Long: "Looks up the mailbox of every stored identity and prints the ones whose " +
		"mailbox is missing or differs in active state or name. Exits non-zero when drift is found.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		findings, checked, err := env.service.Verify(ctx, viper.GetInt("verify.page_size"))
		if err != nil {
			return fmt.Errorf("verification aborted after %d identities: %w", checked, err)
		}

		out := cmd.OutOrStdout()
		for _, f := range findings {
			fmt.Fprintln(out, f)
		}
		fmt.Fprintf(out, "checked %d identities, %d with drift\n", checked, len(findings))
		if len(findings) > 0 {
			return fmt.Errorf("%d identities out of sync", len(findings))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().Int("page-size", provisioning.DefaultVerifyPageSize, "Identities read from the store per page")
	viper.BindPFlag("verify.page_size", verifyCmd.Flags().Lookup("page-size"))

	rootCmd.AddCommand(verifyCmd)
}
