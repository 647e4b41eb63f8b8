package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// echoStreamCodec subscribes with one frame per symbol and reads
// {"symbol": ..., "price": ...} frames.
type echoStreamCodec struct{}

func (echoStreamCodec) URL(base string, symbols []string) string {
	return strings.Replace(base, "http", "ws", 1) + "/ws"
}

func (echoStreamCodec) SubscribeFrames(symbols []string) [][]byte {
	frames := make([][]byte, 0, len(symbols))
	for _, sym := range symbols {
		frames = append(frames, []byte(`{"op":"subscribe","symbol":"`+sym+`"}`))
	}
	return frames
}

func (echoStreamCodec) PingFrame() []byte { return nil }

func (echoStreamCodec) Parse(msg []byte) []Tick {
	price := gjson.GetBytes(msg, "price").Float()
	symbol := gjson.GetBytes(msg, "symbol").Str
	if price <= 0 || symbol == "" {
		return nil
	}
	return []Tick{{Symbol: symbol, Price: price, Source: Source("test")}}
}

var testUpgrader = websocket.Upgrader{}

// wsEchoServer upgrades connections and, for every subscribe frame, sends
// back one matching ticker frame.
func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			symbol := gjson.GetBytes(msg, "symbol").Str
			if symbol == "" {
				continue
			}
			frame := `{"symbol":"` + symbol + `","price":50000}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	}))
}

func streamConfig(base string) *SourceConfig {
	return &SourceConfig{
		Type:           "test",
		Priority:       1,
		BaseURL:        base,
		Interval:       5 * time.Second,
		Timeout:        time.Second,
		ReconnectDelay: 20 * time.Millisecond,
		CacheTTL:       time.Minute,
	}
}

func TestStreamAdapterEmitsTicks(t *testing.T) {
	server := wsEchoServer(t)
	defer server.Close()

	collector := &tickCollector{}
	var mu sync.Mutex
	var ups []bool
	adapter := NewStreamAdapter("test-stream", Source("test"), streamConfig(server.URL), echoStreamCodec{}, Deps{
		Symbols: []string{"BTC", "ETH"},
		Sink:    collector.sink,
		OnState: func(_ Source, connected bool, _ string) {
			mu.Lock()
			ups = append(ups, connected)
			mu.Unlock()
		},
	})

	adapter.Start(context.Background())
	defer adapter.Stop()

	require.Eventually(t, func() bool {
		return len(collector.all()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	symbols := make(map[string]bool)
	for _, tick := range collector.all() {
		symbols[tick.Symbol] = true
		assert.Equal(t, 50000.0, tick.Price)
		assert.NotZero(t, tick.Timestamp)
	}
	assert.True(t, symbols["BTC"])
	assert.True(t, symbols["ETH"])
	assert.True(t, adapter.Connected())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ups)
	assert.True(t, ups[0])
}

func TestStreamAdapterReconnects(t *testing.T) {
	server := wsEchoServer(t)

	adapter := NewStreamAdapter("test-stream", Source("test"), streamConfig(server.URL), echoStreamCodec{}, Deps{
		Symbols: []string{"BTC"},
		Sink:    func(Tick) {},
	})
	adapter.Start(context.Background())
	defer adapter.Stop()

	require.Eventually(t, adapter.Connected, 2*time.Second, 10*time.Millisecond)

	// Kill the server; the adapter must notice and report down.
	server.CloseClientConnections()
	server.Close()

	require.Eventually(t, func() bool {
		return !adapter.Connected()
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, adapter.LastError())
}

func TestStreamAdapterShardsConnections(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns++
		mu.Unlock()
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := streamConfig(server.URL)
	cfg.MaxSymbolsPerConn = 2
	adapter := NewStreamAdapter("test-stream", Source("test"), cfg, echoStreamCodec{}, Deps{
		Symbols: []string{"BTC", "ETH", "SOL"},
		Sink:    func(Tick) {},
	})
	adapter.Start(context.Background())
	defer adapter.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return conns == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamAdapterStopCancelsReconnect(t *testing.T) {
	// Nothing listens here; the adapter sits in its reconnect loop.
	cfg := streamConfig("http://127.0.0.1:1")
	cfg.ReconnectDelay = time.Hour
	adapter := NewStreamAdapter("test-stream", Source("test"), cfg, echoStreamCodec{}, Deps{
		Symbols: []string{"BTC"},
		Sink:    func(Tick) {},
	})
	adapter.Start(context.Background())

	require.Eventually(t, func() bool {
		return adapter.LastError() != ""
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		adapter.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the reconnect wait")
	}
	assert.False(t, adapter.Connected())
}

func TestWatchdogIntervalClamped(t *testing.T) {
	cfg := streamConfig("")
	cfg.Interval = time.Second
	a := NewStreamAdapter("x", Source("test"), cfg, echoStreamCodec{}, Deps{Sink: func(Tick) {}})
	assert.Equal(t, 15*time.Second, a.watchdogInterval())

	cfg.Interval = 10 * time.Second
	assert.Equal(t, 30*time.Second, a.watchdogInterval())

	cfg.Interval = 10 * time.Minute
	assert.Equal(t, 90*time.Second, a.watchdogInterval())
}
