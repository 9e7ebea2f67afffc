package cli

import (
	"github.com/spf13/cobra"

	"funding-spread-alerts/internal/app"
)

var (
	exportPNGPath string
	exportCSVPath string
	exportMaxRows int
	exportVenues  []string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the current top spreads as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
			MaxRows: exportMaxRows,
			Venues:  exportVenues,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum markets to export (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportVenues, "venues", nil, "Venues to compare, comma separated (defaults to all)")
}
