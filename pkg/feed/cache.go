package feed

import (
	"sync"
	"time"
)

// tickCache remembers the last tick per symbol for a bounded TTL so a brief
// network blip or adapter restart does not immediately present as "no data".
type tickCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cachedTick
}

type cachedTick struct {
	tick   Tick
	stored time.Time
}

func newTickCache(ttl time.Duration) *tickCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &tickCache{
		ttl:     ttl,
		entries: make(map[string]cachedTick),
	}
}

func (c *tickCache) put(tick Tick) {
	c.mu.Lock()
	c.entries[tick.Symbol] = cachedTick{tick: tick, stored: time.Now()}
	c.mu.Unlock()
}

// replay returns unexpired cached ticks re-tagged as SourceCached. Original
// timestamps are preserved so staleness checks downstream stay honest.
func (c *tickCache) replay() []Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	out := make([]Tick, 0, len(c.entries))
	for _, entry := range c.entries {
		if now.Sub(entry.stored) > c.ttl {
			continue
		}
		tick := entry.tick
		tick.Source = SourceCached
		out = append(out, tick)
	}
	return out
}
