package funding

import (
	"strings"

	"github.com/shopspring/decimal"
)

// VenueSet is a case-insensitive set of venue names. A nil or empty set selects every venue.
type VenueSet map[string]struct{}

// NewVenueSet builds a VenueSet from names.
func NewVenueSet(names ...string) VenueSet {
	set := make(VenueSet, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[strings.ToLower(name)] = struct{}{}
	}
	return set
}

// Contains reports whether venue is selected.
func (s VenueSet) Contains(venue string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[strings.ToLower(venue)]
	return ok
}

// Classify returns the widest pairwise spread among the rates whose venue is in selected.
//
// Fewer than two remaining rates yield the zero result. Venue counts are small, so the
// scan is a plain all-pairs loop; on equal spreads the first pair encountered wins.
func Classify(rates []VenueRate, selected VenueSet) SpreadResult {
	filtered := make([]VenueRate, 0, len(rates))
	for _, r := range rates {
		if selected.Contains(r.Venue) {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) < 2 {
		return SpreadResult{Spread: decimal.Zero, HighRate: decimal.Zero, LowRate: decimal.Zero}
	}

	best := SpreadResult{Spread: decimal.Zero, HighRate: decimal.Zero, LowRate: decimal.Zero}
	found := false
	for i := 0; i < len(filtered); i++ {
		for j := i + 1; j < len(filtered); j++ {
			a, b := filtered[i], filtered[j]
			spread := a.Rate.Sub(b.Rate).Abs()
			if found && !spread.GreaterThan(best.Spread) {
				continue
			}
			high, low := a, b
			if b.Rate.GreaterThan(a.Rate) {
				high, low = b, a
			}
			best = SpreadResult{
				Spread:    spread,
				HighVenue: high.Venue,
				LowVenue:  low.Venue,
				HighRate:  high.Rate,
				LowRate:   low.Rate,
			}
			found = true
		}
	}

	if best.Spread.Sign() == 0 {
		return SpreadResult{Spread: decimal.Zero, HighRate: decimal.Zero, LowRate: decimal.Zero}
	}
	best.Kind = kindOf(best)
	return best
}

func kindOf(r SpreadResult) OpportunityKind {
	if r.HighRate.Sign()*r.LowRate.Sign() < 0 {
		return KindArbitrage
	}
	if r.Spread.GreaterThanOrEqual(HighSpreadThreshold) {
		return KindHighSpread
	}
	return KindLowSpread
}
