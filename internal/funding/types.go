package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueRate is one venue's annualized funding rate in percent. Positive means longs pay shorts.
type VenueRate struct {
	Venue string          `json:"venue"`
	Rate  decimal.Decimal `json:"rate"`
}

// MarketSnapshot groups the rates reported for one market during a refresh cycle.
// Venue names are unique within Rates.
type MarketSnapshot struct {
	Market      string      `json:"market"`
	Rates       []VenueRate `json:"venueRates"`
	GeneratedAt time.Time   `json:"lastUpdate"`
}

// Pair renders the market the way venues quote it against USD.
func (s MarketSnapshot) Pair() string {
	return s.Market + "-USD"
}

// OpportunityKind labels a spread.
type OpportunityKind string

const (
	KindNone       OpportunityKind = ""
	KindArbitrage  OpportunityKind = "arbitrage"
	KindHighSpread OpportunityKind = "high-spread"
	KindLowSpread  OpportunityKind = "low-spread"
)

// HighSpreadThreshold is the spread, in the same units as the rates, from which a
// same-sign spread counts as high.
var HighSpreadThreshold = decimal.NewFromInt(100)

// SpreadResult is the widest pair found among a market's selected venue rates.
type SpreadResult struct {
	Spread    decimal.Decimal `json:"spread"`
	HighVenue string          `json:"highVenue"`
	LowVenue  string          `json:"lowVenue"`
	HighRate  decimal.Decimal `json:"highRate"`
	LowRate   decimal.Decimal `json:"lowRate"`
	Kind      OpportunityKind `json:"opportunityKind"`
}

// IsZero reports whether the result is the "no opportunity" sentinel.
func (r SpreadResult) IsZero() bool {
	return r.Spread.Sign() == 0
}
