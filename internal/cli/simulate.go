package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"navwatch/internal/app"
)

var (
	simulateCode      string
	simulateName      string
	simulateState     string
	simulateMarket    float64
	simulateReference float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Simulate a premium or discount and send the alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMarket <= 0 || simulateReference <= 0 {
			return errors.New("--market and --nav must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			ID:        simulateCode,
			Name:      simulateName,
			Market:    decimal.NewFromFloat(simulateMarket),
			Reference: decimal.NewFromFloat(simulateReference),
			State:     simulateState,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCode, "code", "", "instrument code")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "instrument name")
	simulateCmd.Flags().StringVar(&simulateState, "state", "", "trading status")
	simulateCmd.Flags().Float64Var(&simulateMarket, "market", 0, "market price")
	simulateCmd.Flags().Float64Var(&simulateReference, "nav", 0, "reference value (NAV)")
}
