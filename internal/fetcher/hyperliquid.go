package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const hyperliquidInfoPath = "/info"

// Hyperliquid reads funding from the metaAndAssetCtxs info call. Rates are hourly.
//
// The response is a two element array: the universe metadata and the per-asset contexts,
// aligned by index.
type Hyperliquid struct {
	httpVenue
}

// NewHyperliquid constructs a Hyperliquid adapter.
func NewHyperliquid(opts Options, logger zerolog.Logger) *Hyperliquid {
	return &Hyperliquid{httpVenue: newHTTPVenue(VenueHyperliquid, "https://api.hyperliquid.xyz", opts, logger)}
}

// Name returns the venue name.
func (h *Hyperliquid) Name() string { return h.name }

// Fetch retrieves every listed asset with its annualized funding rate.
func (h *Hyperliquid) Fetch(ctx context.Context) ([]RawRate, error) {
	payload, err := h.post(ctx, hyperliquidInfoPath, map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("hyperliquid returned invalid json")
	}

	doc := gjson.ParseBytes(payload)
	universe := doc.Get("0.universe").Array()
	contexts := doc.Get("1").Array()
	if len(universe) == 0 || len(contexts) == 0 {
		return nil, errors.New("hyperliquid response missing universe or asset contexts")
	}

	rates := make([]RawRate, 0, len(universe))
	for i, asset := range universe {
		if i >= len(contexts) {
			break
		}
		if asset.Get("isDelisted").Bool() {
			continue
		}
		name := asset.Get("name").String()
		funding := contexts[i].Get("funding")
		if name == "" || !funding.Exists() {
			continue
		}
		rate, err := decimal.NewFromString(funding.String())
		if err != nil {
			h.logger.Debug().Err(err).Str("symbol", name).Msg("skip unparseable funding")
			continue
		}
		rates = append(rates, RawRate{Symbol: name, Rate: annualize(rate, hoursPerYear)})
	}
	return rates, nil
}

var _ VenueAdapter = (*Hyperliquid)(nil)
