package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"funding-spread-alerts/internal/alerts"
)

// Export writes the current top spreads as CSV and/or a PNG bar chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	snapshots, generatedAt, _, err := a.snapshotOnce(ctx)
	if err != nil {
		return err
	}

	opps := topSpreads(snapshots, opts.Venues, a.Config.ResolveMaxRows(opts.MaxRows))
	if len(opps) == 0 {
		a.Logger.Info().Int("markets", len(snapshots)).Msg("no spreads to export")
		return nil
	}
	a.Logger.Info().Int("markets", len(snapshots)).Int("exported", len(opps)).Msg("exporting spreads")

	if opts.CSVPath != "" {
		if err := writeSpreadsCSV(opts.CSVPath, opps, generatedAt); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSpreadsPNG(opts.PNGPath, opps, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

func writeSpreadsCSV(path string, opps []alerts.Opportunity, generatedAt time.Time) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"generated_at", "market", "spread", "high_venue", "high_rate", "low_venue", "low_rate", "kind"}
	if err := writer.Write(header); err != nil {
		return err
	}

	stamp := generatedAt.UTC().Format(time.RFC3339)
	for _, opp := range opps {
		record := []string{
			stamp,
			opp.Market,
			opp.Spread.String(),
			opp.HighVenue,
			opp.HighRate.String(),
			opp.LowVenue,
			opp.LowRate.String(),
			string(opp.Kind),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSpreadsPNG(path string, opps []alerts.Opportunity, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 512
	}

	bars := make([]chart.Value, 0, len(opps))
	for _, opp := range opps {
		bars = append(bars, chart.Value{
			Label: opp.Market,
			Value: opp.Spread.InexactFloat64(),
		})
	}

	graph := chart.BarChart{
		Title:    "Funding rate spread (annualized %)",
		Width:    width,
		Height:   height,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
