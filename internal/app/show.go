package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/cache"
	"funding-spread-alerts/internal/funding"
)

// spreadCeiling stands in for "no upper bound" when ranking for display.
var spreadCeiling = decimal.NewFromInt(1_000_000)

// snapshotOnce runs one aggregation pass through a throwaway cache.
func (a *App) snapshotOnce(ctx context.Context) ([]funding.MarketSnapshot, time.Time, cache.Status, error) {
	c := cache.New(a.newAggregator(), nil, a.Logger)
	c.RefreshOnce(ctx)
	st := c.Status()
	snapshots, generatedAt := c.Get()
	if generatedAt.IsZero() {
		cause := st.LastError
		if cause == nil {
			cause = cache.ErrAllVenuesFailed
		}
		return nil, time.Time{}, st, fmt.Errorf("fetch funding rates: %w", cause)
	}
	return snapshots, generatedAt, st, nil
}

// topSpreads ranks every market by its widest spread across venues.
func topSpreads(snapshots []funding.MarketSnapshot, venues []string, limit int) []alerts.Opportunity {
	return alerts.Select(snapshots, alerts.Setting{
		MinSpread:      decimal.Zero,
		MaxSpread:      spreadCeiling,
		SelectedVenues: venues,
		FilterMode:     alerts.FilterAll,
		MaxResults:     limit,
	})
}

// Show prints the current widest spreads.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	snapshots, generatedAt, st, err := a.snapshotOnce(ctx)
	if err != nil {
		return err
	}

	for _, ve := range st.VenueErrors {
		a.Logger.Warn().Str("venue", ve.Venue).Err(ve.Err).Msg("venue unavailable")
	}

	opps := topSpreads(snapshots, opts.Venues, a.Config.ResolveMaxRows(opts.Limit))
	return writeSpreadTable(os.Stdout, opps, len(snapshots), generatedAt)
}

func writeSpreadTable(out io.Writer, opps []alerts.Opportunity, markets int, generatedAt time.Time) error {
	if len(opps) == 0 {
		_, err := fmt.Fprintf(out, "no spreads found across %d markets\n", markets)
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tMarket\tSpread\tHigh\tHigh rate\tLow\tLow rate\tKind")
	for i, opp := range opps {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			opp.Pair(),
			formatDecimal(opp.Spread, 2),
			opp.HighVenue,
			formatDecimal(opp.HighRate, 2),
			opp.LowVenue,
			formatDecimal(opp.LowRate, 2),
			kindOrDash(opp.Kind),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\n%d markets, generated %s\n", markets, generatedAt.UTC().Format(time.RFC3339))
	return err
}

func kindOrDash(kind funding.OpportunityKind) string {
	if kind == funding.KindNone {
		return "-"
	}
	return string(kind)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
