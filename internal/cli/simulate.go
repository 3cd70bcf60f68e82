package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dealwatcher/internal/app"
)

var (
	simulateCategory string
	simulateBrand    string
	simulateModel    string
	simulateRAM      int
	simulateROM      int
	simulateSeller   string
	simulateColor    string
	simulatePrice    int64
	simulateHistory  []int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-deal",
	Short: "Evaluate a synthetic price scenario and show the resulting caption",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBrand == "" || simulateModel == "" {
			return errors.New("--brand and --model must be provided")
		}

		opts := app.SimulateOptions{
			Category: simulateCategory,
			Brand:    simulateBrand,
			Model:    simulateModel,
			RAM:      simulateRAM,
			ROM:      simulateROM,
			Seller:   simulateSeller,
			Color:    simulateColor,
			Price:    simulatePrice,
			History:  simulateHistory,
		}

		return getApp().SimulateDeal(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCategory, "category", "smartphone", "Product category")
	simulateCmd.Flags().StringVar(&simulateBrand, "brand", "", "Product brand")
	simulateCmd.Flags().StringVar(&simulateModel, "model", "", "Product model")
	simulateCmd.Flags().IntVar(&simulateRAM, "ram", 0, "RAM in GB (0 when not applicable)")
	simulateCmd.Flags().IntVar(&simulateROM, "rom", 128, "Storage in GB")
	simulateCmd.Flags().StringVar(&simulateSeller, "seller", "store", "Seller name")
	simulateCmd.Flags().StringVar(&simulateColor, "color", "black", "Listing color")
	simulateCmd.Flags().Int64Var(&simulatePrice, "price", 0, "New price in smallest currency units")
	simulateCmd.Flags().Int64SliceVar(&simulateHistory, "history", nil, "Past prices, newest first")
}
