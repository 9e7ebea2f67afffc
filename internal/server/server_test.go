package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding-spread-alerts/internal/aggregator"
	"funding-spread-alerts/internal/cache"
	"funding-spread-alerts/internal/funding"
	"funding-spread-alerts/internal/metrics"
)

type fakeSource struct {
	snaps  []funding.MarketSnapshot
	at     time.Time
	status cache.Status
}

func (f fakeSource) Get() ([]funding.MarketSnapshot, time.Time) { return f.snaps, f.at }
func (f fakeSource) Status() cache.Status                       { return f.status }

var generated = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func populated() fakeSource {
	return fakeSource{
		at: generated,
		snaps: []funding.MarketSnapshot{{
			Market: "BTC",
			Rates: []funding.VenueRate{
				{Venue: "dYdX", Rate: decimal.RequireFromString("45.2")},
				{Venue: "Paradex", Rate: decimal.RequireFromString("-12.8")},
				{Venue: "Extended", Rate: decimal.RequireFromString("5")},
			},
			GeneratedAt: generated,
		}},
		status: cache.Status{Initialized: true, GeneratedAt: generated, Markets: 1},
	}
}

func newTestServer(src fakeSource, rec *metrics.Recorder) *Server {
	s := New(src, rec, Options{StaleAfter: 10 * time.Minute}, zerolog.Nop())
	s.now = func() time.Time { return generated.Add(time.Minute) }
	return s
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestFundingRatesListsCachedMarkets(t *testing.T) {
	rec := get(t, newTestServer(populated(), nil), "/api/funding-rates")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []struct {
			Market     string            `json:"market"`
			VenueRates []json.RawMessage `json:"venueRates"`
			MaxSpread  json.RawMessage   `json:"maxSpread"`
		} `json:"data"`
		LastUpdate   time.Time `json:"lastUpdate"`
		TotalMarkets int       `json:"totalMarkets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.TotalMarkets)
	assert.True(t, body.LastUpdate.Equal(generated))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "BTC", body.Data[0].Market)
	assert.Len(t, body.Data[0].VenueRates, 3)
	assert.Nil(t, body.Data[0].MaxSpread)
}

func TestFundingRatesClassifiesSelectedVenues(t *testing.T) {
	rec := get(t, newTestServer(populated(), nil), "/api/funding-rates?venues=dydx,paradex")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []struct {
			MaxSpread funding.SpreadResult `json:"maxSpread"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	got := body.Data[0].MaxSpread
	assert.True(t, got.Spread.Equal(decimal.RequireFromString("58")), got.Spread.String())
	assert.Equal(t, "dYdX", got.HighVenue)
	assert.Equal(t, "Paradex", got.LowVenue)
	assert.Equal(t, funding.KindArbitrage, got.Kind)
}

func TestFundingRatesRejectsSingleVenue(t *testing.T) {
	rec := get(t, newTestServer(populated(), nil), "/api/funding-rates?venues=dydx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFundingRatesBeforeFirstRefresh(t *testing.T) {
	rec := get(t, newTestServer(fakeSource{}, nil), "/api/funding-rates")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[],"lastUpdate":null,"totalMarkets":0}`, rec.Body.String())
}

func TestHealthReportsStaleWhileError(t *testing.T) {
	src := populated()
	src.status.LastAttempt = generated.Add(30 * time.Second)
	src.status.LastError = cache.ErrAllVenuesFailed
	src.status.VenueErrors = []aggregator.VenueError{{Venue: "dYdX", Err: errors.New("502")}}

	rec := get(t, newTestServer(src, nil), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, 1, body.Markets)
	require.NotNil(t, body.AgeSeconds)
	assert.InDelta(t, 60, *body.AgeSeconds, 0.001)
	assert.Contains(t, body.LastError, "all venues failed")
	require.Len(t, body.VenueErrors, 1)
	assert.Equal(t, "dYdX", body.VenueErrors[0].Venue)
}

func TestHealthUninitialized(t *testing.T) {
	rec := get(t, newTestServer(fakeSource{}, nil), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"initializing"`)
}

func TestMetricsEndpointAndRequestCounter(t *testing.T) {
	rec := metrics.New()
	s := newTestServer(populated(), rec)

	get(t, s, "/api/funding-rates")
	get(t, s, "/api/funding-rates?venues=x")

	resp := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), "fundingd_http_requests_total"))

	count, err := testutil.GatherAndCount(rec.Registry(), "fundingd_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 2)
}
