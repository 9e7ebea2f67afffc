package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"funding-spread-alerts/internal/alerting"
	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/config"
	"funding-spread-alerts/internal/fetcher"
	"funding-spread-alerts/internal/storage"
)

// Test notification filter.
var (
	testMinSpread  = decimal.NewFromInt(50)
	testMaxSpread  = decimal.NewFromInt(500)
	testMaxResults = 3
)

// settingsStore opens the persistent settings store. It backs both the alert loop and the
// management commands, so the memory backend is refused here.
func (a *App) settingsStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Alerting.Store == config.StoreMemory {
		return nil, nil, errors.New("alerting.store=memory is not persistent; alert settings need postgres")
	}
	store, closer, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured: %w", storage.ErrNotConfigured)
	}
	return store, closer, nil
}

// ParseSetting converts raw CLI input into a validated setting.
func ParseSetting(in AlertInput) (alerts.Setting, error) {
	var problems []string

	interval, err := alerts.ParseInterval(in.Interval)
	if err != nil {
		problems = append(problems, err.Error())
	}
	minSpread, err := decimal.NewFromString(strings.TrimSpace(in.MinSpread))
	if err != nil {
		problems = append(problems, fmt.Sprintf("min spread %q is not a number", in.MinSpread))
	}
	maxSpread, err := decimal.NewFromString(strings.TrimSpace(in.MaxSpread))
	if err != nil {
		problems = append(problems, fmt.Sprintf("max spread %q is not a number", in.MaxSpread))
	}
	mode, err := alerts.ParseFilterMode(in.FilterMode)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return alerts.Setting{}, &alerts.InvalidSettingError{Problems: problems}
	}

	var venues []string
	for _, v := range in.Venues {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		if name, ok := fetcher.CanonicalVenue(v); ok {
			v = name
		}
		venues = append(venues, v)
	}

	setting := alerts.Setting{
		OwnerID:        in.OwnerID,
		Name:           strings.TrimSpace(in.Name),
		Interval:       interval,
		MinSpread:      minSpread,
		MaxSpread:      maxSpread,
		SelectedVenues: venues,
		FilterMode:     mode,
		MaxResults:     in.MaxResults,
		Active:         true,
	}
	if err := setting.Validate(); err != nil {
		return alerts.Setting{}, err
	}
	return setting, nil
}

// AddAlert validates and stores a new alert setting.
func (a *App) AddAlert(ctx context.Context, in AlertInput) (alerts.Setting, error) {
	setting, err := ParseSetting(in)
	if err != nil {
		return alerts.Setting{}, err
	}

	store, closeStore, err := a.settingsStore(ctx)
	if err != nil {
		return alerts.Setting{}, err
	}
	defer closeStore()

	created, err := store.CreateSetting(ctx, setting)
	if err != nil {
		return alerts.Setting{}, err
	}
	a.Logger.Info().Int64("setting_id", created.ID).Int64("owner_id", created.OwnerID).Msg("alert setting created")
	return created, nil
}

// ListAlerts prints settings, optionally for one owner.
func (a *App) ListAlerts(ctx context.Context, ownerID int64) error {
	store, closeStore, err := a.settingsStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	settings, err := store.ListSettings(ctx, ownerID)
	if err != nil {
		return err
	}
	return writeSettingsTable(os.Stdout, settings)
}

func writeSettingsTable(out io.Writer, settings []alerts.Setting) error {
	if len(settings) == 0 {
		_, err := fmt.Fprintln(out, "no alert settings found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tName\tEvery\tSpread\tVenues\tMode\tTop\tActive\tLast sent (UTC)")
	for _, s := range settings {
		venues := "all"
		if len(s.SelectedVenues) > 0 {
			venues = strings.Join(s.SelectedVenues, ",")
		}
		lastSent := "-"
		if s.LastSentAt != nil {
			lastSent = s.LastSentAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%d\t%d\t%s\t%s\t%s-%s\t%s\t%s\t%d\t%t\t%s\n",
			s.ID,
			s.OwnerID,
			sanitizeInline(s.Name),
			s.Interval,
			s.MinSpread.String(),
			s.MaxSpread.String(),
			venues,
			s.FilterMode,
			s.MaxResults,
			s.Active,
			lastSent,
		)
	}
	return writer.Flush()
}

// SetAlertActive pauses or resumes a setting.
func (a *App) SetAlertActive(ctx context.Context, id int64, active bool) error {
	store, closeStore, err := a.settingsStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("alert %d: %w", id, err)
	}
	a.Logger.Info().Int64("setting_id", id).Bool("active", active).Msg("alert setting updated")
	return nil
}

// DeleteAlert removes a setting; its notification log is kept.
func (a *App) DeleteAlert(ctx context.Context, id int64) error {
	store, closeStore, err := a.settingsStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.DeleteSetting(ctx, id); err != nil {
		return fmt.Errorf("alert %d: %w", id, err)
	}
	a.Logger.Info().Int64("setting_id", id).Msg("alert setting deleted")
	return nil
}

// AlertStats prints delivery outcomes over the given window.
func (a *App) AlertStats(ctx context.Context, opts StatsOptions) error {
	store, closeStore, err := a.settingsStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	since := time.Now().UTC().Add(-opts.Since)
	stats, err := store.NotificationStats(ctx, since)
	if err != nil {
		return err
	}
	return writeStats(os.Stdout, stats, since)
}

func writeStats(out io.Writer, stats storage.NotificationStats, since time.Time) error {
	statuses := make([]string, 0, len(stats.ByStatus))
	for status := range stats.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Active settings\t%d\n", stats.ActiveSettings)
	fmt.Fprintf(writer, "Since\t%s\n", since.UTC().Format(time.RFC3339))
	for _, status := range statuses {
		fmt.Fprintf(writer, "%s\t%d\n", status, stats.ByStatus[alerts.Status(status)])
	}
	return writer.Flush()
}

// TestAlert fetches once and sends the test notification to chatID.
func (a *App) TestAlert(ctx context.Context, chatID int64) error {
	if chatID == 0 {
		return errors.New("--chat is required")
	}

	channel := a.newChannel()
	setting := alerts.Setting{
		OwnerID:        chatID,
		Name:           "Test Alert",
		Interval:       alerts.MustHours(1),
		MinSpread:      testMinSpread,
		MaxSpread:      testMaxSpread,
		SelectedVenues: a.newAggregator().Venues(),
		FilterMode:     alerts.FilterAll,
		MaxResults:     testMaxResults,
		Active:         true,
	}

	var message string
	snapshots, generatedAt, _, err := a.snapshotOnce(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("test alert without funding data")
		message = alerting.FormatTestUnavailable()
	} else {
		opps := alerts.Select(snapshots, setting)
		message = alerting.FormatTest(setting, opps, generatedAt)
	}

	if err := channel.Send(ctx, chatID, message); err != nil {
		return fmt.Errorf("send test alert: %w", err)
	}
	a.Logger.Info().Int64("owner_id", chatID).Msg("test alert sent")
	return nil
}

// Migrate applies the embedded schema.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database not configured: %w", storage.ErrNotConfigured)
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("files", applied).Msg("schema migrated")
	return nil
}
