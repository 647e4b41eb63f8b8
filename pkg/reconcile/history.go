package reconcile

import (
	"math"
	"sync"
	"time"
)

const historyWindow = 24 * time.Hour

// HistoryEntry is one retained price point.
type HistoryEntry struct {
	Price     float64 `json:"price" msgpack:"p"`
	Timestamp int64   `json:"timestamp" msgpack:"t"`
}

// HistoryConfig bounds the per-symbol series.
type HistoryConfig struct {
	// MaxEntries is a hard cap per symbol independent of time pruning.
	MaxEntries int
	// MinSpacing is the minimum gap between near-identical entries; a
	// genuine move is always recorded immediately.
	MinSpacing time.Duration
	// DedupThreshold is the relative price change under which an entry
	// counts as near-identical, e.g. 0.001 == 0.1%.
	DedupThreshold float64
}

func (c *HistoryConfig) fill() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1440
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = 2 * time.Minute
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = 0.001
	}
}

// HistoryTracker keeps a bounded, time-ordered price history per symbol so
// 24h statistics can be derived without trusting any single source's own
// metadata. It owns its sequences; History returns copies.
type HistoryTracker struct {
	cfg HistoryConfig

	mu     sync.Mutex
	series map[string][]HistoryEntry
}

// NewHistoryTracker builds a tracker with the given bounds.
func NewHistoryTracker(cfg HistoryConfig) *HistoryTracker {
	cfg.fill()
	return &HistoryTracker{
		cfg:    cfg,
		series: make(map[string][]HistoryEntry),
	}
}

// Record appends a price point. High-frequency unchanged ticks are skipped:
// an entry within DedupThreshold of the last one is dropped unless
// MinSpacing has elapsed. Pruning is lazy, on every write.
func (h *HistoryTracker) Record(symbol string, price float64, timestamp int64) {
	if price <= 0 || symbol == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.series[symbol]
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if timestamp < last.Timestamp {
			return // out-of-order, within one source this does not happen
		}
		unchanged := relDiff(price, last.Price) < h.cfg.DedupThreshold
		if unchanged && time.Duration(timestamp-last.Timestamp)*time.Millisecond < h.cfg.MinSpacing {
			return
		}
	}

	entries = append(entries, HistoryEntry{Price: price, Timestamp: timestamp})
	h.series[symbol] = h.prune(entries, timestamp)
}

func (h *HistoryTracker) prune(entries []HistoryEntry, now int64) []HistoryEntry {
	cutoff := now - historyWindow.Milliseconds()
	start := 0
	for start < len(entries) && entries[start].Timestamp < cutoff {
		start++
	}
	entries = entries[start:]
	if over := len(entries) - h.cfg.MaxEntries; over > 0 {
		entries = entries[over:]
	}
	return entries
}

// History returns the retained series for a symbol, oldest first.
func (h *HistoryTracker) History(symbol string) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]HistoryEntry(nil), h.series[symbol]...)
}

// OldestNear returns the entry closest to the target timestamp within the
// given window, preferring the oldest candidates.
func (h *HistoryTracker) OldestNear(symbol string, target, window int64) (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var best HistoryEntry
	bestDist := int64(math.MaxInt64)
	for _, entry := range h.series[symbol] {
		dist := entry.Timestamp - target
		if dist < 0 {
			dist = -dist
		}
		if dist <= window && dist < bestDist {
			best, bestDist = entry, dist
		}
	}
	return best, bestDist != int64(math.MaxInt64)
}

// Oldest returns the first retained entry for a symbol.
func (h *HistoryTracker) Oldest(symbol string) (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.series[symbol]
	if len(entries) == 0 {
		return HistoryEntry{}, false
	}
	return entries[0], true
}

// Restore seeds a symbol's series from persisted entries, dropping anything
// already outside the retention window.
func (h *HistoryTracker) Restore(symbol string, entries []HistoryEntry) {
	if len(entries) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now().UnixMilli()
	h.series[symbol] = h.prune(append([]HistoryEntry(nil), entries...), now)
}

// Dump copies every retained series, for persistence.
func (h *HistoryTracker) Dump() map[string][]HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][]HistoryEntry, len(h.series))
	for symbol, entries := range h.series {
		out[symbol] = append([]HistoryEntry(nil), entries...)
	}
	return out
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}
