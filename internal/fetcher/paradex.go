package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const paradexSummaryPath = "/v1/markets/summary"

// Paradex reads market summaries. Funding settles every 8 hours.
type Paradex struct {
	httpVenue
}

// NewParadex constructs a Paradex adapter.
func NewParadex(opts Options, logger zerolog.Logger) *Paradex {
	return &Paradex{httpVenue: newHTTPVenue(VenueParadex, "https://api.prod.paradex.trade", opts, logger)}
}

// Name returns the venue name.
func (p *Paradex) Name() string { return p.name }

// Fetch retrieves the summary of all markets in a single call and keeps perpetuals only.
func (p *Paradex) Fetch(ctx context.Context) ([]RawRate, error) {
	payload, err := p.get(ctx, paradexSummaryPath, url.Values{"market": []string{"ALL"}})
	if err != nil {
		return nil, err
	}

	var res struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode paradex summary: %w", err)
	}
	if res.Results == nil {
		return nil, errors.New("paradex response missing results")
	}

	rates := make([]RawRate, 0, len(res.Results))
	for _, raw := range res.Results {
		var summary struct {
			Symbol      string          `json:"symbol"`
			FundingRate decimal.Decimal `json:"funding_rate"`
		}
		if err := json.Unmarshal(raw, &summary); err != nil {
			p.logger.Debug().Err(err).Msg("skip unparseable summary")
			continue
		}
		if !strings.HasSuffix(summary.Symbol, "-PERP") {
			continue
		}
		rates = append(rates, RawRate{Symbol: summary.Symbol, Rate: annualize(summary.FundingRate, eightHPerYear)})
	}
	return rates, nil
}

var _ VenueAdapter = (*Paradex)(nil)
