package reconcile

import "coinwatch/pkg/feed"

// FromFeedConfig lifts the loaded feed configuration into reconciler and
// history tuning. Source types double as source identifiers, so each
// configured source contributes one rank.
func FromFeedConfig(cfg *feed.Config) (Config, HistoryConfig) {
	rc := Config{
		Epsilon:         cfg.Reconciler.Epsilon,
		PublishInterval: cfg.Reconciler.PublishInterval,
		Sources:         make([]SourceSpec, 0, len(cfg.Sources)),
	}
	for _, src := range cfg.Sources {
		rc.Sources = append(rc.Sources, SourceSpec{
			Source:   feed.Source(src.Type),
			Priority: src.Priority,
			Interval: src.Interval,
		})
	}
	hc := HistoryConfig{
		MaxEntries: cfg.History.MaxEntries,
		MinSpacing: cfg.History.MinSpacing,
	}
	return rc, hc
}
