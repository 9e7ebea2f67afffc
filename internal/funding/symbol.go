package funding

import "strings"

// quoteSuffixes are stripped from venue symbols, longest first so "-USD-PERP" wins over "-USD".
var quoteSuffixes = []string{
	"-USD-PERP",
	"-USDC-PERP",
	"-USDT-PERP",
	"-PERP",
	"-USDC",
	"-USDT",
	"-USD",
	"/USDC",
	"/USDT",
	"/USD",
	"USDT",
	"USDC",
}

// NormalizeSymbol maps a venue-specific symbol such as "btc-usd-perp" to the canonical
// market key "BTC". It returns "" for symbols that carry no base asset.
func NormalizeSymbol(raw string) string {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(sym, suffix) && len(sym) > len(suffix) {
			sym = strings.TrimSuffix(sym, suffix)
			break
		}
	}
	return strings.Trim(sym, "-/_ ")
}
