package sources

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

func init() {
	feed.RegisterSource("api3", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("api3: base_url is required")
		}
		return feed.NewPollAdapter(name, feed.SourceAPI3, cfg, api3Codec{}, deps), nil
	})
}

// api3Codec polls dAPI reader endpoints, one request per symbol. The body
// does not repeat the symbol, so the request carries it as a hint.
type api3Codec struct{}

func (api3Codec) Requests(base string, symbols []string) []feed.PollRequest {
	requests := make([]feed.PollRequest, len(symbols))
	for i, sym := range symbols {
		requests[i] = feed.PollRequest{
			URL:    strings.TrimSuffix(base, "/") + "/dapis/" + strings.ToUpper(sym) + "-USD/latest",
			Symbol: sym,
		}
	}
	return requests
}

func (api3Codec) Parse(req feed.PollRequest, body []byte) []feed.Tick {
	price := num(gjson.GetBytes(body, "value"))
	if price <= 0 {
		return nil
	}
	ts := gjson.GetBytes(body, "timestamp").Int()
	if ts > 0 && ts < 1e12 {
		ts *= 1000 // seconds on the wire
	}
	return []feed.Tick{{
		Symbol:    strings.ToUpper(req.Symbol),
		Price:     price,
		Timestamp: ts,
		Source:    feed.SourceAPI3,
	}}
}
