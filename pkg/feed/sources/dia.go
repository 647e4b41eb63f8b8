package sources

import (
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const diaBaseURL = "https://api.diadata.org"

func init() {
	feed.RegisterSource("dia", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewPollAdapter(name, feed.SourceDIA, cfg, diaCodec{}, deps), nil
	})
}

// diaCodec polls the per-asset quotation endpoint, one request per symbol.
type diaCodec struct{}

func (diaCodec) Requests(base string, symbols []string) []feed.PollRequest {
	if base == "" {
		base = diaBaseURL
	}
	requests := make([]feed.PollRequest, len(symbols))
	for i, sym := range symbols {
		requests[i] = feed.PollRequest{
			URL:    base + "/v1/quotation/" + strings.ToUpper(sym),
			Symbol: sym,
		}
	}
	return requests
}

func (diaCodec) Parse(req feed.PollRequest, body []byte) []feed.Tick {
	price := num(gjson.GetBytes(body, "Price"))
	if price <= 0 {
		return nil
	}
	symbol := gjson.GetBytes(body, "Symbol").Str
	if symbol == "" {
		symbol = req.Symbol
	}
	return []feed.Tick{{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Timestamp: rfc3339ToMillis(gjson.GetBytes(body, "Time").Str),
		Source:    feed.SourceDIA,
		Volume24h: num(gjson.GetBytes(body, "VolumeYesterdayUSD")),
	}}
}
