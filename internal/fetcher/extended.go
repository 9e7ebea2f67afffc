package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const extendedMarketsPath = "/api/v1/info/markets"

// Extended reads market stats from Extended Exchange. Rates are hourly.
type Extended struct {
	httpVenue
}

// NewExtended constructs an Extended adapter.
func NewExtended(opts Options, logger zerolog.Logger) *Extended {
	return &Extended{httpVenue: newHTTPVenue(VenueExtended, "https://api.extended.exchange", opts, logger)}
}

// Name returns the venue name.
func (e *Extended) Name() string { return e.name }

// Fetch retrieves all markets with their annualized funding rate.
func (e *Extended) Fetch(ctx context.Context) ([]RawRate, error) {
	payload, err := e.get(ctx, extendedMarketsPath, nil)
	if err != nil {
		return nil, err
	}

	var res struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode extended markets: %w", err)
	}
	if res.Data == nil {
		return nil, errors.New("extended response missing data")
	}

	rates := make([]RawRate, 0, len(res.Data))
	for _, raw := range res.Data {
		var market struct {
			Name        string `json:"name"`
			MarketStats struct {
				FundingRate *decimal.Decimal `json:"fundingRate"`
			} `json:"marketStats"`
		}
		if err := json.Unmarshal(raw, &market); err != nil {
			e.logger.Debug().Err(err).Msg("skip unparseable market")
			continue
		}
		if market.Name == "" || market.MarketStats.FundingRate == nil {
			continue
		}
		rates = append(rates, RawRate{Symbol: market.Name, Rate: annualize(*market.MarketStats.FundingRate, hoursPerYear)})
	}
	return rates, nil
}

var _ VenueAdapter = (*Extended)(nil)
