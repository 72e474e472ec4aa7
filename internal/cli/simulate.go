package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateInstrument string
	simulateOld        float64
	simulateNew        float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-breach",
	Short: "Run a synthetic price move through the threshold engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOld <= 0 || simulateNew <= 0 {
			return errors.New("--old and --new must be greater than 0")
		}

		oldValue := decimal.NewFromFloat(simulateOld)
		newValue := decimal.NewFromFloat(simulateNew)
		return getApp().SimulateBreach(cmd.Context(), simulateInstrument, oldValue, newValue)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateInstrument, "instrument", "usd_toman", "Instrument to simulate")
	simulateCmd.Flags().Float64Var(&simulateOld, "old", 0, "Baseline (last announced) value")
	simulateCmd.Flags().Float64Var(&simulateNew, "new", 0, "New observed value")
}
