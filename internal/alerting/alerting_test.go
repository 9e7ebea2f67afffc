package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/funding"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestTelegramChannelSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received), "解析请求体失败")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	ch := NewTelegramChannel(TelegramOptions{BotToken: "token", BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	require.NoError(t, ch.Send(context.Background(), -100123, "hello"), "Send 应成功")

	assert.Equal(t, float64(-100123), received["chat_id"], "chat_id 不正确")
	assert.Equal(t, "hello", received["text"])
	assert.Equal(t, "Markdown", received["parse_mode"])
}

func TestTelegramChannelTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 429, "description": "Too Many Requests: retry after 5"})
	}))
	defer srv.Close()

	ch := NewTelegramChannel(TelegramOptions{BotToken: "token", BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	err := ch.Send(context.Background(), 1, "hello")
	require.Error(t, err, "429 应报错")
	assert.False(t, errors.Is(err, ErrRecipientUnreachable), "429 不应视为永久错误")
}

func TestTelegramChannelOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	ch := NewTelegramChannel(TelegramOptions{BotToken: "token", BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	assert.Error(t, ch.Send(context.Background(), 1, "hello"), "ok=false 应报错")
}

func TestTelegramChannelRecipientUnreachable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		desc   string
	}{
		{"blocked", http.StatusForbidden, "Forbidden: bot was blocked by the user"},
		{"chat not found", http.StatusBadRequest, "Bad Request: chat not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": tc.status, "description": tc.desc})
			}))
			defer srv.Close()

			ch := NewTelegramChannel(TelegramOptions{BotToken: "token", BaseURL: srv.URL, Timeout: time.Second}, testLogger())
			err := ch.Send(context.Background(), 1, "hello")
			assert.ErrorIs(t, err, ErrRecipientUnreachable)
		})
	}
}

func TestTelegramChannelHonoursContext(t *testing.T) {
	ch := NewTelegramChannel(TelegramOptions{BotToken: "token", BaseURL: "http://127.0.0.1:1"}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, ch.Send(ctx, 1, "hello"), "已取消的 context 应报错")
}

func opportunity(market, high, low string, highRate, lowRate string, kind funding.OpportunityKind) alerts.Opportunity {
	hr := decimal.RequireFromString(highRate)
	lr := decimal.RequireFromString(lowRate)
	return alerts.Opportunity{
		Market: market,
		SpreadResult: funding.SpreadResult{
			Spread:    hr.Sub(lr),
			HighVenue: high,
			LowVenue:  low,
			HighRate:  hr,
			LowRate:   lr,
			Kind:      kind,
		},
	}
}

func TestFormatAlert(t *testing.T) {
	setting := alerts.Setting{Name: "my_alert", Interval: alerts.MustMinutes(15)}
	opps := []alerts.Opportunity{
		opportunity("BTC", "dYdX", "Paradex", "45.2", "-12.8", funding.KindArbitrage),
		opportunity("ETH", "Extended", "Hyperliquid", "-1", "-120", funding.KindHighSpread),
	}
	updated := time.Date(2026, 5, 1, 14, 5, 0, 0, time.UTC)

	msg := FormatAlert(setting, opps, updated)
	for _, want := range []string{
		"🚨 *my\\_alert* 🚨",
		"Found 2 opportunities",
		"1\ufe0f\u20e3 *BTC-USD*",
		"💰 Spread: *58.0 bps*",
		"📈 dYdX: +45.2 bps",
		"📉 Paradex: -12.8 bps",
		"🎯 Best Arbitrage",
		"2\ufe0f\u20e3 *ETH-USD*",
		"📈 Extended: -1.0 bps",
		"📈 High Spread",
		"⏰ Updated: 14:05",
		"🔄 Next check in 15 minutes",
		"Manage alerts: /alerts",
	} {
		assert.Contains(t, msg, want, "消息缺少 %q", want)
	}

	single := FormatAlert(setting, opps[:1], updated)
	assert.Contains(t, single, "Found 1 opportunity:", "单数形式不正确")
}

func TestFormatTest(t *testing.T) {
	setting := alerts.Setting{Name: "Test Alert", Interval: alerts.MustHours(1)}
	empty := FormatTest(setting, nil, time.Now())
	assert.True(t, strings.HasPrefix(empty, testHeader), "空测试消息不正确: %s", empty)
	assert.Contains(t, empty, "Bot is working")

	full := FormatTest(setting, []alerts.Opportunity{opportunity("SOL", "A", "B", "80", "10", funding.KindLowSpread)}, time.Now())
	assert.Contains(t, full, "📊 Opportunity")
	assert.Contains(t, full, "Next check in 1 hour\n")
}

func TestRankMarker(t *testing.T) {
	assert.Equal(t, "🔟", rankMarker(10), "第十名应为 🔟")
	assert.Equal(t, "11.", rankMarker(11), "超过十名应退化为数字")
}
