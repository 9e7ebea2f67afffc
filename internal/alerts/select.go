package alerts

import (
	"sort"
	"time"

	"funding-spread-alerts/internal/funding"
)

// Status of a processed setting.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
	StatusNoData Status = "no_data"
)

// NotificationRecord is the append-only audit entry written per processed setting.
type NotificationRecord struct {
	ID           int64
	SettingID    int64
	OwnerID      int64
	SentAt       time.Time
	MarketsCount int
	Status       Status
}

// Opportunity is a market that passed a setting's filters.
type Opportunity struct {
	Market string
	funding.SpreadResult
}

// Pair renders the market as BASE-USD.
func (o Opportunity) Pair() string {
	return o.Market + "-USD"
}

// Select classifies every snapshot with the setting's venues and returns the markets that
// satisfy its thresholds and filter mode, widest spread first, at most MaxResults.
func Select(snapshots []funding.MarketSnapshot, s Setting) []Opportunity {
	venues := funding.NewVenueSet(s.SelectedVenues...)

	var out []Opportunity
	for _, snap := range snapshots {
		res := funding.Classify(snap.Rates, venues)
		if !res.Spread.IsPositive() {
			continue
		}
		if res.Spread.LessThan(s.MinSpread) || res.Spread.GreaterThan(s.MaxSpread) {
			continue
		}
		if !s.FilterMode.keeps(res) {
			continue
		}
		out = append(out, Opportunity{Market: snap.Market, SpreadResult: res})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Spread.Cmp(out[j].Spread); c != 0 {
			return c > 0
		}
		return out[i].Market < out[j].Market
	})

	if s.MaxResults > 0 && len(out) > s.MaxResults {
		out = out[:s.MaxResults]
	}
	return out
}

func (m FilterMode) keeps(res funding.SpreadResult) bool {
	switch m {
	case FilterArbitrageOnly:
		return res.Kind == funding.KindArbitrage
	case FilterHighSpreadOnly:
		return res.Spread.GreaterThanOrEqual(funding.HighSpreadThreshold)
	default:
		return true
	}
}
