package reconcile

import "coinwatch/pkg/feed"

// ConfidenceSource records which tier of the derived-stat fallback chain
// produced a symbol's 24h figures.
type ConfidenceSource string

const (
	ConfidenceAPI      ConfidenceSource = "api"
	ConfidenceHistory  ConfidenceSource = "history"
	ConfidenceFallback ConfidenceSource = "fallback"
	ConfidenceNone     ConfidenceSource = "none"
)

// SymbolState is the reconciled, publishable view of one instrument. The
// reconciler owns the live table; everything handed to subscribers or
// returned from snapshot reads is a copy.
type SymbolState struct {
	Symbol     string           `json:"symbol"`
	Price      float64          `json:"price"`
	LastUpdate int64            `json:"lastUpdate"` // epoch ms, monotonically non-decreasing
	Source     feed.Source      `json:"source"`
	Change24h  float64          `json:"change24h"`
	High24h    float64          `json:"high24h"`
	Low24h     float64          `json:"low24h"`
	Volume24h  float64          `json:"volume24h"`
	Confidence ConfidenceSource `json:"confidence"`
}

// Snapshot is the JSON shape handed to the persistence bridge.
type Snapshot struct {
	Timestamp int64         `json:"timestamp"`
	Data      []SymbolState `json:"data"`
}
