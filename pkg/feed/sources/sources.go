// Package sources registers the concrete adapters for every supported
// exchange and oracle feed. Each source contributes only a codec; the
// connection lifecycle lives in the generic stream/poll adapters.
package sources

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// num converts a gjson value to float64. Exchanges ship prices as decimal
// strings; parsing through decimal avoids the intermediate float rounding
// of strconv on long mantissas.
func num(res gjson.Result) float64 {
	if res.Type == gjson.String {
		d, err := decimal.NewFromString(strings.TrimSpace(res.Str))
		if err != nil {
			return 0
		}
		f, _ := d.Float64()
		return f
	}
	return res.Float()
}

// pctChange returns the percent change from open to last, 0 when open is
// unusable.
func pctChange(last, open float64) float64 {
	if open <= 0 {
		return 0
	}
	return (last - open) / open * 100
}

// canonical strips a quote-currency suffix from an exchange pair name, so
// "BTCUSDT", "BTC-USD" and "BTC/USD" all map to "BTC".
func canonical(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"-", "/"} {
		if i := strings.Index(pair, sep); i > 0 {
			return pair[:i]
		}
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if len(pair) > len(quote) && strings.HasSuffix(pair, quote) {
			return pair[:len(pair)-len(quote)]
		}
	}
	return pair
}

func rfc3339ToMillis(value string) int64 {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0
	}
	return ts.UnixMilli()
}
