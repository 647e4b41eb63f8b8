package sources

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const pythBaseURL = "https://hermes.pyth.network"

func init() {
	feed.RegisterSource("pyth", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		codec, err := newPythCodec(cfg.Params, deps.Symbols)
		if err != nil {
			return nil, err
		}
		return feed.NewPollAdapter(name, feed.SourcePyth, cfg, codec, deps), nil
	})
}

// pythCodec polls the Hermes latest-price endpoint. Pyth addresses feeds by
// 32-byte IDs, so the config must map each symbol to its feed ID; symbols
// without an ID are simply not polled.
type pythCodec struct {
	idBySymbol map[string]string
	symbolByID map[string]string
}

func newPythCodec(params map[string]string, symbols []string) (*pythCodec, error) {
	codec := &pythCodec{
		idBySymbol: make(map[string]string),
		symbolByID: make(map[string]string),
	}
	for _, sym := range symbols {
		id, ok := params[sym]
		if !ok {
			continue
		}
		id = strings.ToLower(strings.TrimPrefix(id, "0x"))
		codec.idBySymbol[sym] = id
		codec.symbolByID[id] = sym
	}
	if len(codec.idBySymbol) == 0 {
		return nil, fmt.Errorf("pyth: no feed ids configured for any requested symbol")
	}
	return codec, nil
}

func (c *pythCodec) Requests(base string, symbols []string) []feed.PollRequest {
	if base == "" {
		base = pythBaseURL
	}
	values := url.Values{}
	for _, sym := range symbols {
		if id, ok := c.idBySymbol[sym]; ok {
			values.Add("ids[]", id)
		}
	}
	values.Set("parsed", "true")
	return []feed.PollRequest{{URL: base + "/v2/updates/price/latest?" + values.Encode()}}
}

func (c *pythCodec) Parse(req feed.PollRequest, body []byte) []feed.Tick {
	var ticks []feed.Tick
	for _, item := range gjson.GetBytes(body, "parsed").Array() {
		id := strings.ToLower(strings.TrimPrefix(item.Get("id").Str, "0x"))
		symbol, ok := c.symbolByID[id]
		if !ok {
			continue
		}
		expo := item.Get("price.expo").Int()
		scale := math.Pow10(int(expo))
		price := num(item.Get("price.price")) * scale
		if price <= 0 {
			continue
		}
		ticks = append(ticks, feed.Tick{
			Symbol:     symbol,
			Price:      price,
			Timestamp:  item.Get("price.publish_time").Int() * 1000,
			Source:     feed.SourcePyth,
			Confidence: num(item.Get("price.conf")) * scale,
		})
	}
	return ticks
}
