package sources

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"coinwatch/pkg/feed"
)

const okxBaseURL = "wss://ws.okx.com:8443/ws/v5/public"

func init() {
	feed.RegisterSource("okx", func(name string, cfg *feed.SourceConfig, deps feed.Deps) (feed.Adapter, error) {
		return feed.NewStreamAdapter(name, feed.SourceOKX, cfg, okxCodec{}, deps), nil
	})
}

// okxCodec speaks the v5 public tickers channel. OKX closes idle sockets
// after 30s of silence and expects a literal "ping" text frame.
type okxCodec struct{}

func (okxCodec) URL(base string, symbols []string) string {
	if base == "" {
		return okxBaseURL
	}
	return base
}

func (okxCodec) SubscribeFrames(symbols []string) [][]byte {
	args := make([]map[string]string, len(symbols))
	for i, sym := range symbols {
		args[i] = map[string]string{
			"channel": "tickers",
			"instId":  strings.ToUpper(sym) + "-USDT",
		}
	}
	frame, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{frame}
}

func (okxCodec) PingFrame() []byte {
	return []byte("ping")
}

func (okxCodec) Parse(msg []byte) []feed.Tick {
	if gjson.GetBytes(msg, "arg.channel").Str != "tickers" {
		return nil
	}
	var ticks []feed.Tick
	for _, data := range gjson.GetBytes(msg, "data").Array() {
		last := num(data.Get("last"))
		if last <= 0 {
			continue
		}
		ts := data.Get("ts").Int()
		ticks = append(ticks, feed.Tick{
			Symbol:    canonical(data.Get("instId").Str),
			Price:     last,
			Timestamp: ts,
			Source:    feed.SourceOKX,
			Volume24h: num(data.Get("volCcy24h")),
			Meta: &feed.TickMeta{
				Change24h: pctChange(last, num(data.Get("open24h"))),
				High24h:   num(data.Get("high24h")),
				Low24h:    num(data.Get("low24h")),
				FetchedAt: ts,
			},
		})
	}
	return ticks
}
