package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinwatch/pkg/feed"
)

func newStatsFixture() (*StatCalculator, *HistoryTracker) {
	history := NewHistoryTracker(HistoryConfig{MinSpacing: time.Millisecond})
	return NewStatCalculator(StatsConfig{}, history), history
}

func TestStatsFreshMetadataWins(t *testing.T) {
	calc, history := newStatsFixture()
	now := time.Now().UnixMilli()
	history.Record("BTC", 48000, now-2*time.Hour.Milliseconds())

	stats := calc.Compute("BTC", 50000, now, &feed.TickMeta{
		Change24h: 2.5,
		High24h:   50500,
		Low24h:    47500,
		FetchedAt: now - time.Minute.Milliseconds(),
	}, nil)

	assert.Equal(t, ConfidenceAPI, stats.Confidence)
	assert.Equal(t, 2.5, stats.Change24h)
	assert.Equal(t, 50500.0, stats.High24h)
	assert.Equal(t, 47500.0, stats.Low24h)
}

func TestStatsExpiredMetadataFallsThrough(t *testing.T) {
	calc, history := newStatsFixture()
	now := time.Now().UnixMilli()
	history.Record("BTC", 45000, now-24*time.Hour.Milliseconds()+time.Minute.Milliseconds())

	stats := calc.Compute("BTC", 49500, now, &feed.TickMeta{
		Change24h: 2.5,
		FetchedAt: now - time.Hour.Milliseconds(), // past the 10m TTL
	}, nil)

	assert.Equal(t, ConfidenceHistory, stats.Confidence)
	assert.InDelta(t, 10.0, stats.Change24h, 0.01)
}

func TestStatsInsaneMetadataRejected(t *testing.T) {
	calc, _ := newStatsFixture()
	now := time.Now().UnixMilli()

	for _, change := range []float64{1500, -99.5, math.NaN(), math.Inf(1)} {
		stats := calc.Compute("BTC", 50000, now, &feed.TickMeta{
			Change24h: change,
			FetchedAt: now,
		}, nil)
		assert.NotEqual(t, ConfidenceAPI, stats.Confidence, "change=%v must not pass as api data", change)
	}
}

func TestStatsHistoryDerivation(t *testing.T) {
	calc, history := newStatsFixture()
	now := time.Now().UnixMilli()
	dayAgo := now - 24*time.Hour.Milliseconds()

	history.Record("ETH", 3000, dayAgo+10*time.Minute.Milliseconds())
	history.Record("ETH", 3100, now-time.Hour.Milliseconds())

	stats := calc.Compute("ETH", 3300, now, nil, nil)
	require.Equal(t, ConfidenceHistory, stats.Confidence)
	assert.InDelta(t, 10.0, stats.Change24h, 0.01)
	assert.Equal(t, 3300.0, stats.High24h)
	assert.Equal(t, 3000.0, stats.Low24h)
}

func TestStatsShortHistoryUsesOldest(t *testing.T) {
	calc, history := newStatsFixture()
	now := time.Now().UnixMilli()

	// Only two hours of history: no entry near 24h ago, but the oldest is
	// over an hour old, so it still anchors the change.
	history.Record("SOL", 100, now-2*time.Hour.Milliseconds())
	stats := calc.Compute("SOL", 105, now, nil, nil)
	require.Equal(t, ConfidenceHistory, stats.Confidence)
	assert.InDelta(t, 5.0, stats.Change24h, 0.01)

	// Minutes of history anchor nothing.
	calc2, history2 := newStatsFixture()
	history2.Record("SOL", 100, now-5*time.Minute.Milliseconds())
	stats = calc2.Compute("SOL", 105, now, nil, nil)
	assert.NotEqual(t, ConfidenceHistory, stats.Confidence)
}

func TestStatsFallbackTier(t *testing.T) {
	calc, _ := newStatsFixture()
	now := time.Now().UnixMilli()

	stats := calc.Compute("BTC", 50000, now, nil, &Stats{
		Change24h: 1.8,
		High24h:   50400,
		Low24h:    49000,
	})
	assert.Equal(t, ConfidenceFallback, stats.Confidence)
	assert.Equal(t, 1.8, stats.Change24h)

	// An insane fallback is ignored, not laundered into the output.
	stats = calc.Compute("BTC", 50000, now, nil, &Stats{Change24h: 5000})
	assert.Equal(t, ConfidenceNone, stats.Confidence)
	assert.Zero(t, stats.Change24h)
}

func TestStatsInsufficientData(t *testing.T) {
	calc, _ := newStatsFixture()
	now := time.Now().UnixMilli()

	stats := calc.Compute("NEW", 42, now, nil, nil)
	assert.Equal(t, ConfidenceNone, stats.Confidence)
	assert.Zero(t, stats.Change24h)
	assert.Equal(t, 42.0, stats.High24h)
	assert.Equal(t, 42.0, stats.Low24h)
}

func TestStatsHighLowIncludeCurrentPrice(t *testing.T) {
	calc, history := newStatsFixture()
	now := time.Now().UnixMilli()
	history.Record("BTC", 48000, now-2*time.Hour.Milliseconds())

	// Breakout above the source-reported high.
	stats := calc.Compute("BTC", 51000, now, &feed.TickMeta{
		Change24h: 2.0,
		High24h:   50500,
		Low24h:    47500,
		FetchedAt: now,
	}, nil)
	assert.Equal(t, 51000.0, stats.High24h)

	// Breakdown below the source-reported low.
	stats = calc.Compute("BTC", 47000, now, &feed.TickMeta{
		Change24h: -2.0,
		High24h:   50500,
		Low24h:    47500,
		FetchedAt: now,
	}, nil)
	assert.Equal(t, 47000.0, stats.Low24h)
}
