package reconcile

import (
	"math"
	"time"

	"coinwatch/pkg/feed"
)

// Sanity bounds on a 24h change. Anything outside indicates a bad upstream
// tick (or NaN/Inf) and falls through to the next tier.
const (
	minSaneChange = -99.0
	maxSaneChange = 1000.0
)

// StatsConfig tunes the derived-stat fallback chain.
type StatsConfig struct {
	// MetaTTL is how long source-reported 24h metadata stays trustworthy.
	MetaTTL time.Duration
	// TargetWindow is the tolerance around the 24h-ago point when deriving
	// the change from local history.
	TargetWindow time.Duration
}

func (c *StatsConfig) fill() {
	if c.MetaTTL <= 0 {
		c.MetaTTL = 10 * time.Minute
	}
	if c.TargetWindow <= 0 {
		c.TargetWindow = time.Hour
	}
}

// Stats is the derived 24h view for one symbol.
type Stats struct {
	Change24h  float64
	High24h    float64
	Low24h     float64
	Confidence ConfidenceSource
}

// StatCalculator derives {change24h, high24h, low24h} from the current
// price plus whichever of source metadata, local history, and a caller
// fallback is valid, in that strict order.
type StatCalculator struct {
	cfg     StatsConfig
	history *HistoryTracker
}

// NewStatCalculator builds a calculator reading from the given tracker.
func NewStatCalculator(cfg StatsConfig, history *HistoryTracker) *StatCalculator {
	cfg.fill()
	return &StatCalculator{cfg: cfg, history: history}
}

// Compute derives the stats for one symbol at "now" (epoch ms).
//
// Tier order: fresh sane source metadata, then the history entry nearest
// 24h ago (or the oldest entry at least an hour old), then the caller's
// fallback, then the explicit insufficient-data default. High/low always
// include the current price so a breakout tick is never lagged.
func (c *StatCalculator) Compute(symbol string, price float64, now int64, meta *feed.TickMeta, fallback *Stats) Stats {
	if meta != nil && c.metaFresh(meta, now) && saneChange(meta.Change24h) {
		return Stats{
			Change24h:  meta.Change24h,
			High24h:    c.highWith(symbol, price, meta.High24h),
			Low24h:     c.lowWith(symbol, price, meta.Low24h),
			Confidence: ConfidenceAPI,
		}
	}

	if change, ok := c.changeFromHistory(symbol, price, now); ok {
		return Stats{
			Change24h:  change,
			High24h:    c.highWith(symbol, price, 0),
			Low24h:     c.lowWith(symbol, price, 0),
			Confidence: ConfidenceHistory,
		}
	}

	if fallback != nil && saneChange(fallback.Change24h) {
		return Stats{
			Change24h:  fallback.Change24h,
			High24h:    c.highWith(symbol, price, fallback.High24h),
			Low24h:     c.lowWith(symbol, price, fallback.Low24h),
			Confidence: ConfidenceFallback,
		}
	}

	// Insufficient data: explicit zero state, never fabricated.
	return Stats{
		Change24h:  0,
		High24h:    price,
		Low24h:     price,
		Confidence: ConfidenceNone,
	}
}

func (c *StatCalculator) metaFresh(meta *feed.TickMeta, now int64) bool {
	if meta.FetchedAt <= 0 {
		return false
	}
	return now-meta.FetchedAt <= c.cfg.MetaTTL.Milliseconds()
}

func (c *StatCalculator) changeFromHistory(symbol string, price float64, now int64) (float64, bool) {
	target := now - historyWindow.Milliseconds()
	entry, ok := c.history.OldestNear(symbol, target, c.cfg.TargetWindow.Milliseconds())
	if !ok {
		// No point near 24h ago; the oldest entry still beats nothing, as
		// long as it has at least an hour of distance.
		oldest, exists := c.history.Oldest(symbol)
		if !exists || now-oldest.Timestamp < time.Hour.Milliseconds() {
			return 0, false
		}
		entry = oldest
	}
	if entry.Price <= 0 {
		return 0, false
	}
	change := (price - entry.Price) / entry.Price * 100
	if !saneChange(change) {
		return 0, false
	}
	return change, true
}

// highWith returns the max across the candidate, all history prices, and
// the current price.
func (c *StatCalculator) highWith(symbol string, price, candidate float64) float64 {
	high := price
	if candidate > high {
		high = candidate
	}
	for _, entry := range c.history.History(symbol) {
		if entry.Price > high {
			high = entry.Price
		}
	}
	return high
}

func (c *StatCalculator) lowWith(symbol string, price, candidate float64) float64 {
	low := price
	if candidate > 0 && candidate < low {
		low = candidate
	}
	for _, entry := range c.history.History(symbol) {
		if entry.Price < low {
			low = entry.Price
		}
	}
	return low
}

func saneChange(change float64) bool {
	if math.IsNaN(change) || math.IsInf(change, 0) {
		return false
	}
	return change >= minSaneChange && change <= maxSaneChange
}
