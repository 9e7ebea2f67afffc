package fetcher

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Venue display names. They are also the names users select venues by.
const (
	VenueDydx        = "dYdX"
	VenueHyperliquid = "Hyperliquid"
	VenueParadex     = "Paradex"
	VenueExtended    = "Extended"
)

// KnownVenues lists every venue an adapter exists for, in display order.
var KnownVenues = []string{VenueDydx, VenueHyperliquid, VenueParadex, VenueExtended}

// CanonicalVenue resolves a user-typed venue name to its display name, ignoring case.
func CanonicalVenue(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, v := range KnownVenues {
		if strings.EqualFold(v, name) {
			return v, true
		}
	}
	return "", false
}

// RawRate is a venue symbol with its annualized funding rate in percent.
type RawRate struct {
	Symbol string
	Rate   decimal.Decimal
}

// VenueAdapter retrieves the current funding rates of one venue.
type VenueAdapter interface {
	Name() string
	Fetch(ctx context.Context) ([]RawRate, error)
}
