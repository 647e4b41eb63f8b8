package sources

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const krakenBaseURL = "wss://ws.kraken.com/v2"

func init() {
	feed.RegisterSource("kraken", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewStreamAdapter(name, feed.SourceKraken, cfg, krakenCodec{}, deps), nil
	})
}

// krakenCodec speaks the v2 ticker channel.
type krakenCodec struct{}

func (krakenCodec) URL(base string, symbols []string) string {
	if base == "" {
		return krakenBaseURL
	}
	return base
}

func (krakenCodec) SubscribeFrames(symbols []string) [][]byte {
	pairs := make([]string, len(symbols))
	for i, sym := range symbols {
		pairs[i] = strings.ToUpper(sym) + "/USD"
	}
	frame, _ := json.Marshal(map[string]any{
		"method": "subscribe",
		"params": map[string]any{"channel": "ticker", "symbol": pairs},
	})
	return [][]byte{frame}
}

func (krakenCodec) PingFrame() []byte { return nil }

func (krakenCodec) Parse(msg []byte) []feed.Tick {
	if gjson.GetBytes(msg, "channel").Str != "ticker" {
		return nil
	}
	var ticks []feed.Tick
	for _, data := range gjson.GetBytes(msg, "data").Array() {
		last := num(data.Get("last"))
		if last <= 0 {
			continue
		}
		ticks = append(ticks, feed.Tick{
			Symbol:    canonical(data.Get("symbol").Str),
			Price:     last,
			Source:    feed.SourceKraken,
			Volume24h: num(data.Get("volume")),
			Meta: &feed.TickMeta{
				Change24h: num(data.Get("change_pct")),
				High24h:   num(data.Get("high")),
				Low24h:    num(data.Get("low")),
			},
		})
	}
	return ticks
}
