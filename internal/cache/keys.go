package cache

import (
	"fmt"
	"strings"
	"time"

	"coinwatch/internal/config"
)

// Namespace is the Redis key prefix for the coinwatch application.
const Namespace = "coinwatch"

// TTLClass represents a config-driven TTL bucket.
type TTLClass string

const (
	TTLShort  TTLClass = "short"
	TTLMedium TTLClass = "medium"
	TTLLong   TTLClass = "long"
)

// TTLSet normalises cache TTLs from config into time.Duration values.
type TTLSet struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Short:  durationOrDefault(cfg.Short, 10*time.Second),
		Medium: durationOrDefault(cfg.Medium, time.Minute),
		Long:   durationOrDefault(cfg.Long, 5*time.Minute),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// Duration returns the configured duration for the given TTL class.
func (t TTLSet) Duration(class TTLClass) time.Duration {
	switch class {
	case TTLShort:
		return t.Short
	case TTLMedium:
		return t.Medium
	case TTLLong:
		return t.Long
	default:
		return 0
	}
}

// Scaled applies a multiplier to a TTL class, useful for half/double TTL variants.
func (t TTLSet) Scaled(class TTLClass, factor float64) time.Duration {
	base := t.Duration(class)
	if base <= 0 || factor <= 0 {
		return base
	}
	return time.Duration(float64(base) * factor)
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// --- Price Keys -------------------------------------------------------------

// PriceLatestKey returns the reconciled latest price key for a symbol.
func PriceLatestKey(symbol string) string {
	return formatKey("price", "latest", symbol)
}

// PriceBySourceKey returns the latest price key scoped by source, for
// per-source diagnostics.
func PriceBySourceKey(source, symbol string) string {
	return formatKey("price", "latest", source, symbol)
}

// PricesBundleKey holds the aggregated snapshot payload mirroring the file
// snapshot, so API replicas can warm without touching disk.
func PricesBundleKey() string {
	return formatKey("prices")
}

// --- History Keys -----------------------------------------------------------

// HistoryKey holds one symbol's msgpack-encoded rolling history.
func HistoryKey(symbol string) string {
	return formatKey("history", symbol)
}

// --- Source Health Keys -----------------------------------------------------

// SourceHealthKey stores a source's last connectivity report.
func SourceHealthKey(source string) string {
	return formatKey("source", "health", source)
}

// --- TTL Helpers ------------------------------------------------------------

// PriceTTL returns short-lived TTL for individual price keys.
func PriceTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// PricesBundleTTL returns the TTL for the bundled snapshot.
func PricesBundleTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLShort)
}

// HistoryTTL returns the TTL for persisted history blobs. The window the
// blob covers is 24h, so the key outlives any plausible restart gap.
func HistoryTTL() time.Duration {
	return 25 * time.Hour
}

// SourceHealthTTL returns the TTL for source connectivity reports.
func SourceHealthTTL(ttl TTLSet) time.Duration {
	return ttl.Duration(TTLMedium)
}

// FormatCacheKey is exported for dynamic key construction when patterns
// are not covered by helpers.
func FormatCacheKey(parts ...string) string {
	return formatKey(parts...)
}

// BuildKeyWithSuffix appends an arbitrary suffix to an existing key.
func BuildKeyWithSuffix(baseKey, suffix string) string {
	if strings.TrimSpace(suffix) == "" {
		return baseKey
	}
	return fmt.Sprintf("%s:%s", baseKey, strings.TrimSpace(suffix))
}
