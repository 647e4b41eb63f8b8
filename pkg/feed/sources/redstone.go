package sources

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const redstoneBaseURL = "https://api.redstone.finance"

func init() {
	feed.RegisterSource("redstone", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewPollAdapter(name, feed.SourceRedstone, cfg, redstoneCodec{}, deps), nil
	})
}

// redstoneCodec polls the batch prices endpoint; one request covers every
// requested symbol.
type redstoneCodec struct{}

func (redstoneCodec) Requests(base string, symbols []string) []feed.PollRequest {
	if base == "" {
		base = redstoneBaseURL
	}
	values := url.Values{}
	values.Set("symbols", strings.Join(symbols, ","))
	values.Set("provider", "redstone")
	return []feed.PollRequest{{URL: base + "/prices?" + values.Encode()}}
}

func (redstoneCodec) Parse(req feed.PollRequest, body []byte) []feed.Tick {
	var ticks []feed.Tick
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		price := num(value.Get("value"))
		if price <= 0 {
			return true
		}
		ticks = append(ticks, feed.Tick{
			Symbol:    strings.ToUpper(key.Str),
			Price:     price,
			Timestamp: value.Get("timestamp").Int(),
			Source:    feed.SourceRedstone,
		})
		return true
	})
	return ticks
}
