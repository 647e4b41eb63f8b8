package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/pkg/feed"
)

func testReconciler(t *testing.T, cfg Config) *Reconciler {
	t.Helper()
	if len(cfg.Sources) == 0 {
		cfg.Sources = []SourceSpec{
			{Source: feed.SourceBinance, Priority: 1, Interval: 5 * time.Second},
			{Source: feed.SourceKraken, Priority: 5, Interval: 5 * time.Second},
			{Source: feed.SourceDIA, Priority: 7, Interval: 15 * time.Second},
		}
	}
	history := NewHistoryTracker(HistoryConfig{})
	stats := NewStatCalculator(StatsConfig{}, history)
	r := New(cfg, history, stats)
	t.Cleanup(r.Close)
	return r
}

func tick(source feed.Source, symbol string, price float64, ts int64) feed.Tick {
	return feed.Tick{Symbol: symbol, Price: price, Timestamp: ts, Source: source}
}

func TestReconcilerHighestPriorityWins(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	r.Ingest(tick(feed.SourceKraken, "BTC", 50100, now))
	r.Flush()
	state, ok := r.Snapshot("BTC")
	require.True(t, ok)
	assert.Equal(t, feed.SourceKraken, state.Source)
	assert.Equal(t, 50100.0, state.Price)

	// A fresh better-ranked tick takes over outright, no blending.
	r.Ingest(tick(feed.SourceBinance, "BTC", 50000, now))
	r.Flush()
	state, ok = r.Snapshot("BTC")
	require.True(t, ok)
	assert.Equal(t, feed.SourceBinance, state.Source)
	assert.Equal(t, 50000.0, state.Price)

	// Lower-priority updates cannot displace a fresh winner.
	r.Ingest(tick(feed.SourceKraken, "BTC", 50200, now))
	r.Flush()
	state, _ = r.Snapshot("BTC")
	assert.Equal(t, feed.SourceBinance, state.Source)
	assert.Equal(t, 50000.0, state.Price)
}

func TestReconcilerStaleWinnerFallsBack(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	r.Ingest(tick(feed.SourceBinance, "ETH", 3000, now))
	r.Flush()
	state, ok := r.Snapshot("ETH")
	require.True(t, ok)
	require.Equal(t, feed.SourceBinance, state.Source)

	// Binance goes quiet; past twice its interval the kraken tick wins.
	now += 11 * time.Second.Milliseconds()
	r.now = func() int64 { return now }
	r.Ingest(tick(feed.SourceKraken, "ETH", 3010, now))
	r.Flush()
	state, ok = r.Snapshot("ETH")
	require.True(t, ok)
	assert.Equal(t, feed.SourceKraken, state.Source)
	assert.Equal(t, 3010.0, state.Price)
}

func TestReconcilerNeverFabricatesPrices(t *testing.T) {
	r := testReconciler(t, Config{})

	_, ok := r.Snapshot("DOGE")
	assert.False(t, ok)
	assert.Empty(t, r.SnapshotAll())

	// Invalid ticks are rejected outright.
	now := time.Now().UnixMilli()
	r.Ingest(tick(feed.SourceBinance, "DOGE", 0, now))
	r.Ingest(tick(feed.SourceBinance, "DOGE", -1, now))
	r.Ingest(tick(feed.SourceBinance, "", 1, now))
	r.Ingest(tick(feed.Source("unknown"), "DOGE", 1, now))
	r.Flush()
	_, ok = r.Snapshot("DOGE")
	assert.False(t, ok)
}

func TestReconcilerRejectsStaleOnArrival(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	r.Ingest(tick(feed.SourceBinance, "BTC", 50000, now-time.Minute.Milliseconds()))
	r.Flush()
	_, ok := r.Snapshot("BTC")
	assert.False(t, ok)
}

func TestReconcilerEpsilonSuppression(t *testing.T) {
	r := testReconciler(t, Config{Epsilon: 0.0005})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	var mu sync.Mutex
	publishes := 0
	cancel := r.Subscribe(func(map[string]SymbolState) {
		mu.Lock()
		publishes++
		mu.Unlock()
	})
	defer cancel()

	r.Ingest(tick(feed.SourceBinance, "BTC", 50000, now))
	r.Flush()

	// 0.002% move, same source: below epsilon, suppressed.
	r.Ingest(tick(feed.SourceBinance, "BTC", 50001, now))
	r.Flush()

	// 0.2% move: published.
	r.Ingest(tick(feed.SourceBinance, "BTC", 50100, now))
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, publishes)
}

func TestReconcilerThrottleCoalesces(t *testing.T) {
	r := testReconciler(t, Config{PublishInterval: 50 * time.Millisecond})
	now := time.Now().UnixMilli()

	var mu sync.Mutex
	var got []float64
	cancel := r.Subscribe(func(states map[string]SymbolState) {
		mu.Lock()
		got = append(got, states["BTC"].Price)
		mu.Unlock()
	})
	defer cancel()

	for _, price := range []float64{50000, 50100, 50200, 50300, 50400} {
		r.Ingest(tick(feed.SourceBinance, "BTC", price, now))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	// One window, one publish, carrying the winner at publish time.
	require.Len(t, got, 1)
	assert.Equal(t, 50400.0, got[0])
}

func TestReconcilerSnapshotInvariants(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	in := tick(feed.SourceBinance, "BTC", 50000, now)
	in.Meta = &feed.TickMeta{Change24h: 2.5, High24h: 49500, Low24h: 48000, FetchedAt: now}
	r.Ingest(in)
	r.Flush()

	state, ok := r.Snapshot("BTC")
	require.True(t, ok)
	// High/low always bracket the current price, even when the source's
	// own metadata lags a breakout.
	assert.GreaterOrEqual(t, state.High24h, state.Price)
	assert.LessOrEqual(t, state.Low24h, state.Price)
	assert.Equal(t, ConfidenceAPI, state.Confidence)
}

func TestReconcilerRestoreMarksCached(t *testing.T) {
	r := testReconciler(t, Config{})

	r.Restore([]SymbolState{
		{Symbol: "BTC", Price: 49000, Source: feed.SourceBinance, LastUpdate: time.Now().UnixMilli()},
		{Symbol: "BAD", Price: 0},
	})

	state, ok := r.Snapshot("BTC")
	require.True(t, ok)
	assert.Equal(t, feed.SourceCached, state.Source)
	assert.Equal(t, 49000.0, state.Price)

	_, ok = r.Snapshot("BAD")
	assert.False(t, ok)
}

func TestReconcilerRestoreDoesNotOverrideLive(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	r.Ingest(tick(feed.SourceBinance, "BTC", 50000, now))
	r.Flush()

	r.Restore([]SymbolState{{Symbol: "BTC", Price: 42000, LastUpdate: now - 1000}})
	state, ok := r.Snapshot("BTC")
	require.True(t, ok)
	assert.Equal(t, 50000.0, state.Price)
	assert.Equal(t, feed.SourceBinance, state.Source)
}

func TestReconcilerLiveAndPrimary(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	assert.False(t, r.Live())
	r.SetConnected(feed.SourceKraken, true, "")
	assert.True(t, r.Live())
	r.SetConnected(feed.SourceKraken, false, "read timeout")
	assert.False(t, r.Live())

	r.Ingest(tick(feed.SourceKraken, "BTC", 50000, now))
	r.Flush()
	assert.Equal(t, "kraken", r.PrimarySource())
	r.Ingest(tick(feed.SourceBinance, "ETH", 3000, now))
	r.Flush()
	assert.Equal(t, "binance", r.PrimarySource())
}

func TestReconcilerLastSeen(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	assert.Zero(t, r.LastSeen(feed.SourceKraken))
	r.Ingest(tick(feed.SourceKraken, "BTC", 50000, now-2000))
	r.Ingest(tick(feed.SourceKraken, "ETH", 3000, now-1000))
	assert.Equal(t, now-1000, r.LastSeen(feed.SourceKraken))
	assert.Zero(t, r.LastSeen(feed.SourceBinance))
}

func TestReconcilerSubscribeCancel(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	var mu sync.Mutex
	calls := 0
	cancel := r.Subscribe(func(map[string]SymbolState) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	r.Ingest(tick(feed.SourceBinance, "BTC", 50000, now))
	r.Flush()
	cancel()
	r.Ingest(tick(feed.SourceBinance, "BTC", 51000, now))
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestReconcilerVolumeCarriesForward(t *testing.T) {
	r := testReconciler(t, Config{})
	now := time.Now().UnixMilli()
	r.now = func() int64 { return now }

	in := tick(feed.SourceBinance, "BTC", 50000, now)
	in.Volume24h = 1.2e9
	r.Ingest(in)
	r.Flush()

	// Next winner reports no volume; the last known figure sticks.
	r.Ingest(tick(feed.SourceBinance, "BTC", 50500, now))
	r.Flush()

	state, ok := r.Snapshot("BTC")
	require.True(t, ok)
	assert.Equal(t, 1.2e9, state.Volume24h)
}
