package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding-spread-alerts/internal/funding"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func validSetting() Setting {
	return Setting{
		OwnerID:        42,
		Name:           "majors",
		Interval:       MustMinutes(5),
		MinSpread:      d("10"),
		MaxSpread:      d("500"),
		SelectedVenues: []string{"dYdX", "Paradex"},
		FilterMode:     FilterAll,
		MaxResults:     3,
		Active:         true,
	}
}

func TestIntervalConstructors(t *testing.T) {
	for _, n := range []int{0, 25, -1} {
		_, err := Hours(n)
		assert.Error(t, err, "hours=%d", n)
	}
	for _, n := range []int{4, 61} {
		_, err := Minutes(n)
		assert.Error(t, err, "minutes=%d", n)
	}

	h, err := Hours(24)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, h.Duration())
	assert.Equal(t, "24h", h.String())
	assert.Equal(t, "24 hours", h.Humanize())

	m, err := Minutes(5)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, m.Duration())
	assert.Equal(t, "5 minutes", m.Humanize())
	assert.Equal(t, "1 hour", MustHours(1).Humanize())

	assert.True(t, Interval{}.IsZero())
	assert.Zero(t, Interval{}.Duration())
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval(" 15M ")
	require.NoError(t, err)
	assert.Equal(t, UnitMinutes, iv.Unit())
	assert.Equal(t, 15, iv.Value())

	iv, err = ParseInterval("2h")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, iv.Duration())

	for _, bad := range []string{"", "h", "10s", "xm", "3m"} {
		_, err := ParseInterval(bad)
		assert.Error(t, err, bad)
	}
}

func TestIntervalColumnsRoundTrip(t *testing.T) {
	hours, minutes := MustHours(3).Columns()
	require.NotNil(t, hours)
	assert.Nil(t, minutes)
	iv, err := IntervalFromColumns(hours, minutes)
	require.NoError(t, err)
	assert.Equal(t, MustHours(3), iv)

	one := 1
	ten := 10
	_, err = IntervalFromColumns(&one, &ten)
	assert.Error(t, err, "both set")
	_, err = IntervalFromColumns(nil, nil)
	assert.Error(t, err, "neither set")
}

func TestIsDueFiveMinuteBoundary(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := validSetting()

	s.LastSentAt = nil
	assert.True(t, s.IsDue(now), "never sent is due")

	fourAgo := now.Add(-4 * time.Minute)
	s.LastSentAt = &fourAgo
	assert.False(t, s.IsDue(now))

	fiveAgo := now.Add(-5 * time.Minute)
	s.LastSentAt = &fiveAgo
	assert.True(t, s.IsDue(now))

	sixAgo := now.Add(-6 * time.Minute)
	s.LastSentAt = &sixAgo
	assert.True(t, s.IsDue(now))

	s.Active = false
	assert.False(t, s.IsDue(now), "inactive is never due")
}

func TestValidate(t *testing.T) {
	require.NoError(t, validSetting().Validate())

	s := validSetting()
	s.SelectedVenues = nil
	assert.NoError(t, s.Validate(), "empty selection means all venues")

	s = validSetting()
	s.Name = ""
	s.Interval = Interval{}
	s.MinSpread = d("600")
	s.MaxResults = 11
	s.SelectedVenues = []string{"dYdX"}
	s.FilterMode = "weird"

	err := s.Validate()
	require.Error(t, err)
	assert.True(t, IsInvalidSetting(err))

	var invalid *InvalidSettingError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Problems, 6)
	assert.Contains(t, err.Error(), "Name is required")
	assert.Contains(t, err.Error(), "min spread 600 exceeds max spread 500")
}

func TestValidateRejectsUnknownVenues(t *testing.T) {
	s := validSetting()
	s.SelectedVenues = []string{"Binance", "Bybit"}

	err := s.Validate()
	require.Error(t, err)
	var invalid *InvalidSettingError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Problems, 2)
	assert.Contains(t, err.Error(), `unknown venue "Binance"`)
	assert.Contains(t, err.Error(), "available: dYdX, Hyperliquid, Paradex, Extended")

	s.SelectedVenues = []string{"dydx", "Bybit"}
	err = s.Validate()
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{`unknown venue "Bybit" (available: dYdX, Hyperliquid, Paradex, Extended)`}, invalid.Problems)

	s.SelectedVenues = []string{"HYPERLIQUID", "extended"}
	assert.NoError(t, s.Validate(), "venue names match regardless of case")
}

func TestParseFilterMode(t *testing.T) {
	m, err := ParseFilterMode("arbitrage-only")
	require.NoError(t, err)
	assert.Equal(t, FilterArbitrageOnly, m)

	m, err = ParseFilterMode("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, m)

	_, err = ParseFilterMode("everything")
	assert.Error(t, err)
}

func snap(market string, rates map[string]string, order ...string) funding.MarketSnapshot {
	s := funding.MarketSnapshot{Market: market}
	for _, venue := range order {
		s.Rates = append(s.Rates, funding.VenueRate{Venue: venue, Rate: d(rates[venue])})
	}
	return s
}

func TestSelectFiltersSortsAndTruncates(t *testing.T) {
	snaps := []funding.MarketSnapshot{
		snap("BTC", map[string]string{"A": "45.2", "B": "-12.8"}, "A", "B"),
		snap("ETH", map[string]string{"A": "150", "B": "20"}, "A", "B"),
		snap("SOL", map[string]string{"A": "25", "B": "25"}, "A", "B"),
		snap("DOGE", map[string]string{"A": "12"}, "A"),
		snap("XRP", map[string]string{"A": "10", "B": "15"}, "A", "B"),
		snap("AVAX", map[string]string{"A": "900", "B": "-10"}, "A", "B"),
		snap("LINK", map[string]string{"A": "-40", "B": "90.0"}, "A", "B"),
	}

	s := validSetting()
	s.SelectedVenues = nil
	s.MaxResults = 10
	got := Select(snaps, s)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"ETH", "LINK", "BTC"}, []string{got[0].Market, got[1].Market, got[2].Market}, "ties sort by market")
	assert.Equal(t, funding.KindArbitrage, got[2].Kind)
	assert.True(t, got[2].Spread.Equal(d("58")))

	s.FilterMode = FilterArbitrageOnly
	got = Select(snaps, s)
	require.Len(t, got, 2)
	assert.Equal(t, "LINK", got[0].Market)
	assert.Equal(t, "BTC", got[1].Market)

	s.FilterMode = FilterHighSpreadOnly
	got = Select(snaps, s)
	require.Len(t, got, 2)
	assert.Equal(t, "ETH", got[0].Market)
	assert.Equal(t, "LINK", got[1].Market)

	s.FilterMode = FilterAll
	s.MaxResults = 1
	got = Select(snaps, s)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Market)
	assert.Equal(t, "ETH-USD", got[0].Pair())
}

func TestSelectUsesSelectedVenues(t *testing.T) {
	snaps := []funding.MarketSnapshot{
		snap("BTC", map[string]string{"A": "10", "B": "50", "C": "80"}, "A", "B", "C"),
	}
	s := validSetting()
	s.SelectedVenues = []string{"a", "C"}
	got := Select(snaps, s)
	require.Len(t, got, 1)
	assert.True(t, got[0].Spread.Equal(d("70")))
	assert.Equal(t, "C", got[0].HighVenue)
	assert.Equal(t, "A", got[0].LowVenue)

	s.SelectedVenues = []string{"A", "Z"}
	assert.Empty(t, Select(snaps, s), "one selected venue cannot yield a spread")
}

func TestSelectEmptyCache(t *testing.T) {
	assert.Empty(t, Select(nil, validSetting()))
}
