package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"funding-spread-alerts/internal/alerts"
	"funding-spread-alerts/internal/funding"
)

const (
	testHeader        = "🔧 *Test Notification*\n\n"
	noOpportunityText = "📊 No opportunities found matching your criteria at this time."
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// FormatAlert 渲染一条按价差排序的告警消息。
func FormatAlert(setting alerts.Setting, opps []alerts.Opportunity, updated time.Time) string {
	if len(opps) == 0 {
		return noOpportunityText
	}

	var b strings.Builder
	name := setting.Name
	if name == "" {
		name = "Alert"
	}
	fmt.Fprintf(&b, "🚨 *%s* 🚨\n\n", markdownEscaper.Replace(name))

	noun := "opportunities"
	if len(opps) == 1 {
		noun = "opportunity"
	}
	fmt.Fprintf(&b, "📊 Found %d %s:\n\n", len(opps), noun)

	for i, opp := range opps {
		fmt.Fprintf(&b, "%s *%s*\n", rankMarker(i+1), opp.Pair())
		fmt.Fprintf(&b, "💰 Spread: *%s bps*\n", opp.Spread.StringFixed(1))
		fmt.Fprintf(&b, "📈 %s: %s bps\n", opp.HighVenue, signed(opp.HighRate))
		fmt.Fprintf(&b, "📉 %s: %s bps\n", opp.LowVenue, signed(opp.LowRate))
		fmt.Fprintf(&b, "%s\n\n", kindLabel(opp.Kind))
	}

	fmt.Fprintf(&b, "⏰ Updated: %s\n", updated.UTC().Format("15:04"))
	if next := setting.Interval.Humanize(); next != "" {
		fmt.Fprintf(&b, "🔄 Next check in %s\n", next)
	}
	b.WriteString("\n📱 Manage alerts: /alerts")
	return b.String()
}

// FormatTest 渲染测试通知；无匹配时说明机器人仍在工作。
func FormatTest(setting alerts.Setting, opps []alerts.Opportunity, updated time.Time) string {
	if len(opps) == 0 {
		return testHeader + "📊 Bot is working! No opportunities found with current test criteria."
	}
	return testHeader + FormatAlert(setting, opps, updated)
}

// FormatTestUnavailable 在无法获取数据时使用。
func FormatTestUnavailable() string {
	return testHeader + "❌ Unable to fetch funding data at the moment."
}

func rankMarker(n int) string {
	switch {
	case n >= 1 && n <= 9:
		return fmt.Sprintf("%d\ufe0f\u20e3", n)
	case n == 10:
		return "🔟"
	default:
		return fmt.Sprintf("%d.", n)
	}
}

func signed(v decimal.Decimal) string {
	s := v.StringFixed(1)
	if v.IsPositive() {
		return "+" + s
	}
	return s
}

func kindLabel(kind funding.OpportunityKind) string {
	switch kind {
	case funding.KindArbitrage:
		return "🎯 Best Arbitrage"
	case funding.KindHighSpread:
		return "📈 High Spread"
	default:
		return "📊 Opportunity"
	}
}
