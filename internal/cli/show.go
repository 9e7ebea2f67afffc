package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"funding-spread-alerts/internal/app"
)

var (
	showLimit  int
	showVenues []string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Fetch once and display the widest funding spreads",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		if len(showVenues) == 1 {
			return fmt.Errorf("--venues needs at least two venues")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Venues: showVenues,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Number of markets to display (defaults to config)")
	showCmd.Flags().StringSliceVar(&showVenues, "venues", nil, "Venues to compare, comma separated (defaults to all)")
}
