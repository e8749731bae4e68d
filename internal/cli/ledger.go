package cli

import (
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or reset today's alert ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List instruments already alerted today",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LedgerShow(cmd.Context())
	},
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear today's alert ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().LedgerReset(cmd.Context())
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerResetCmd)
}
