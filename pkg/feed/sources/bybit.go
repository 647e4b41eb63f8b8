package sources

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const bybitBaseURL = "wss://stream.bybit.com/v5/public/spot"

func init() {
	feed.RegisterSource("bybit", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewStreamAdapter(name, feed.SourceBybit, cfg, bybitCodec{}, deps), nil
	})
}

// bybitCodec speaks the v5 spot tickers channel. Bybit requires an
// application-level ping op; protocol pings are ignored by the server.
type bybitCodec struct{}

func (bybitCodec) URL(base string, symbols []string) string {
	if base == "" {
		return bybitBaseURL
	}
	return base
}

func (bybitCodec) SubscribeFrames(symbols []string) [][]byte {
	args := make([]string, len(symbols))
	for i, sym := range symbols {
		args[i] = "tickers." + strings.ToUpper(sym) + "USDT"
	}
	frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{frame}
}

func (bybitCodec) PingFrame() []byte {
	return []byte(`{"op":"ping"}`)
}

func (bybitCodec) Parse(msg []byte) []feed.Tick {
	topic := gjson.GetBytes(msg, "topic").Str
	if !strings.HasPrefix(topic, "tickers.") {
		return nil
	}
	data := gjson.GetBytes(msg, "data")
	last := num(data.Get("lastPrice"))
	if last <= 0 {
		return nil
	}
	ts := gjson.GetBytes(msg, "ts").Int()
	tick := feed.Tick{
		Symbol:    canonical(data.Get("symbol").Str),
		Price:     last,
		Timestamp: ts,
		Source:    feed.SourceBybit,
		Volume24h: num(data.Get("turnover24h")),
	}
	// Delta frames omit the 24h fields; only attach metadata when present.
	if high := num(data.Get("highPrice24h")); high > 0 {
		tick.Meta = &feed.TickMeta{
			Change24h: num(data.Get("price24hPcnt")) * 100,
			High24h:   high,
			Low24h:    num(data.Get("lowPrice24h")),
			FetchedAt: ts,
		}
	}
	return []feed.Tick{tick}
}
