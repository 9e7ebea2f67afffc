package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dydxMarketsPath = "/v4/perpetualMarkets"

// Dydx reads next funding rates from the dYdX v4 indexer. Rates are hourly.
type Dydx struct {
	httpVenue
}

// NewDydx constructs a dYdX adapter.
func NewDydx(opts Options, logger zerolog.Logger) *Dydx {
	return &Dydx{httpVenue: newHTTPVenue(VenueDydx, "https://indexer.dydx.trade", opts, logger)}
}

// Name returns the venue name.
func (d *Dydx) Name() string { return d.name }

// Fetch retrieves all perpetual markets and their annualized next funding rate.
func (d *Dydx) Fetch(ctx context.Context) ([]RawRate, error) {
	payload, err := d.get(ctx, dydxMarketsPath, nil)
	if err != nil {
		return nil, err
	}

	var res struct {
		Markets map[string]json.RawMessage `json:"markets"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode dydx markets: %w", err)
	}
	if res.Markets == nil {
		return nil, errors.New("dydx response missing markets")
	}

	rates := make([]RawRate, 0, len(res.Markets))
	for symbol, raw := range res.Markets {
		var market struct {
			NextFundingRate decimal.Decimal `json:"nextFundingRate"`
			Status          string          `json:"status"`
		}
		if err := json.Unmarshal(raw, &market); err != nil {
			d.logger.Debug().Err(err).Str("symbol", symbol).Msg("skip unparseable market")
			continue
		}
		if market.Status != "" && market.Status != "ACTIVE" {
			continue
		}
		rates = append(rates, RawRate{Symbol: symbol, Rate: annualize(market.NextFundingRate, hoursPerYear)})
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i].Symbol < rates[j].Symbol })
	return rates, nil
}

var _ VenueAdapter = (*Dydx)(nil)
