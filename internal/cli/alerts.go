package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"funding-spread-alerts/internal/app"
)

var (
	testAlertChat int64

	alertInput  app.AlertInput
	listOwner   int64
	statsWindow time.Duration
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Fetch once and send a test notification to a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestAlert(cmd.Context(), testAlertChat)
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert settings",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an alert setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		setting, err := getApp().AddAlert(cmd.Context(), alertInput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created alert %d (every %s)\n", setting.ID, setting.Interval)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alert settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), listOwner)
	},
}

var alertsPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause an alert setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertActive(cmd.Context(), id, false)
	},
}

var alertsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused alert setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetAlertActive(cmd.Context(), id, true)
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an alert setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return getApp().DeleteAlert(cmd.Context(), id)
	},
}

var alertsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise recent notification outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsWindow <= 0 {
			return fmt.Errorf("--since must be greater than zero")
		}
		return getApp().AlertStats(cmd.Context(), app.StatsOptions{Since: statsWindow})
	},
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid alert id %q", raw)
	}
	return id, nil
}

func init() {
	testAlertCmd.Flags().Int64Var(&testAlertChat, "chat", 0, "Telegram chat id to notify")
	_ = testAlertCmd.MarkFlagRequired("chat")

	add := alertsAddCmd.Flags()
	add.Int64Var(&alertInput.OwnerID, "owner", 0, "Telegram chat id that owns the alert")
	add.StringVar(&alertInput.Name, "name", "", "Alert name (max 50 characters)")
	add.StringVar(&alertInput.Interval, "every", "1h", "Check interval: 1h-24h or 5m-60m")
	add.StringVar(&alertInput.MinSpread, "min", "0", "Minimum spread")
	add.StringVar(&alertInput.MaxSpread, "max", "1000", "Maximum spread")
	add.StringSliceVar(&alertInput.Venues, "venues", nil, "Venues to compare, comma separated (defaults to all)")
	add.StringVar(&alertInput.FilterMode, "mode", "all", "Filter mode: all, arbitrage_only, high_spread_only")
	add.IntVar(&alertInput.MaxResults, "top", 5, "Maximum markets per message (1-10)")
	_ = alertsAddCmd.MarkFlagRequired("owner")
	_ = alertsAddCmd.MarkFlagRequired("name")

	alertsListCmd.Flags().Int64Var(&listOwner, "owner", 0, "Only list alerts of this chat id")
	alertsStatsCmd.Flags().DurationVar(&statsWindow, "since", 24*time.Hour, "Window to summarise")

	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsPauseCmd, alertsResumeCmd, alertsDeleteCmd, alertsStatsCmd)
}
