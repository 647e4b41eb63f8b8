package sources

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const coinbaseBaseURL = "wss://ws-feed.exchange.coinbase.com"

func init() {
	feed.RegisterSource("coinbase", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewStreamAdapter(name, feed.SourceCoinbase, cfg, coinbaseCodec{}, deps), nil
	})
}

// coinbaseCodec speaks the exchange ticker channel. Coinbase sends
// protocol-level pings itself, so no keepalive frame is needed.
type coinbaseCodec struct{}

func (coinbaseCodec) URL(base string, symbols []string) string {
	if base == "" {
		return coinbaseBaseURL
	}
	return base
}

func (coinbaseCodec) SubscribeFrames(symbols []string) [][]byte {
	products := make([]string, len(symbols))
	for i, sym := range symbols {
		products[i] = strings.ToUpper(sym) + "-USD"
	}
	frame, _ := json.Marshal(map[string]any{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"ticker"},
	})
	return [][]byte{frame}
}

func (coinbaseCodec) PingFrame() []byte { return nil }

func (coinbaseCodec) Parse(msg []byte) []feed.Tick {
	if gjson.GetBytes(msg, "type").Str != "ticker" {
		return nil
	}
	last := num(gjson.GetBytes(msg, "price"))
	if last <= 0 {
		return nil
	}
	ts := rfc3339ToMillis(gjson.GetBytes(msg, "time").Str)
	return []feed.Tick{{
		Symbol:    canonical(gjson.GetBytes(msg, "product_id").Str),
		Price:     last,
		Timestamp: ts,
		Source:    feed.SourceCoinbase,
		Volume24h: num(gjson.GetBytes(msg, "volume_24h")),
		Meta: &feed.TickMeta{
			Change24h: pctChange(last, num(gjson.GetBytes(msg, "open_24h"))),
			High24h:   num(gjson.GetBytes(msg, "high_24h")),
			Low24h:    num(gjson.GetBytes(msg, "low_24h")),
			FetchedAt: ts,
		},
	}}
}
