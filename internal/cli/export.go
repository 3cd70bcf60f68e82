package cli

import (
	"github.com/spf13/cobra"

	"dealwatcher/internal/app"
)

var (
	exportConfiguration int64
	exportPNGPath       string
	exportCSVPath       string
	exportMaxPoints     int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a configuration's price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			ConfigurationID: exportConfiguration,
			PNGPath:         exportPNGPath,
			CSVPath:         exportCSVPath,
			MaxPoints:       exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportConfiguration, "configuration", 0, "Configuration ID whose history to export")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
