package sources

import (
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const binanceBaseURL = "wss://stream.binance.com:9443"

func init() {
	feed.RegisterSource("binance", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewStreamAdapter(name, feed.SourceBinance, cfg, binanceCodec{}, deps), nil
	})
}

// binanceCodec speaks the combined miniTicker stream. The subscription is
// encoded in the URL, so no subscribe frames are needed and the server's
// protocol-level pings keep the socket alive.
type binanceCodec struct{}

func (binanceCodec) URL(base string, symbols []string) string {
	if base == "" {
		base = binanceBaseURL
	}
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "usdt@miniTicker"
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

func (binanceCodec) SubscribeFrames(symbols []string) [][]byte { return nil }

func (binanceCodec) PingFrame() []byte { return nil }

func (binanceCodec) Parse(msg []byte) []feed.Tick {
	data := gjson.GetBytes(msg, "data")
	if !data.Exists() {
		return nil
	}
	if data.Get("e").Str != "24hrMiniTicker" {
		return nil
	}
	last := num(data.Get("c"))
	open := num(data.Get("o"))
	if last <= 0 {
		return nil
	}
	ts := data.Get("E").Int()
	return []feed.Tick{{
		Symbol:    canonical(data.Get("s").Str),
		Price:     last,
		Timestamp: ts,
		Source:    feed.SourceBinance,
		Volume24h: num(data.Get("q")),
		Meta: &feed.TickMeta{
			Change24h: pctChange(last, open),
			High24h:   num(data.Get("h")),
			Low24h:    num(data.Get("l")),
			FetchedAt: ts,
		},
	}}
}
