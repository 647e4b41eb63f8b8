package feed

// Source identifies one upstream price feed.
type Source string

const (
	SourceBinance  Source = "binance"
	SourceBybit    Source = "bybit"
	SourceOKX      Source = "okx"
	SourceCoinbase Source = "coinbase"
	SourceKraken   Source = "kraken"
	SourcePyth     Source = "pyth"
	SourceDIA      Source = "dia"
	SourceRedstone Source = "redstone"
	SourceAPI3     Source = "api3"

	// SourceCached tags ticks replayed from an adapter's local cache after a
	// restart or brief network blip; they carry their original timestamps.
	SourceCached Source = "cached"
)

// Tick is one normalized price observation from one source at one instant.
// Adapters create ticks on receipt from the wire and never mutate them after.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp int64 // epoch milliseconds
	Source    Source
	Volume24h float64 // 0 when the source does not report volume

	// Confidence is the oracle-reported confidence interval, 0 when absent.
	Confidence float64

	// Meta carries source-reported 24h statistics when the wire format
	// includes them; nil otherwise.
	Meta *TickMeta
}

// TickMeta is 24h metadata reported by the source alongside the price.
type TickMeta struct {
	Change24h float64 // percent, e.g. 2.5 == +2.5%
	High24h   float64
	Low24h    float64
	FetchedAt int64 // epoch milliseconds when the metadata was observed
}

// Sink receives normalized ticks. Implementations must not block: adapters
// call the sink inline from their read loops.
type Sink func(Tick)

// StateFunc receives adapter connectivity transitions.
type StateFunc func(source Source, connected bool, lastErr string)

// ConnState enumerates the adapter connection state machine.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}
