package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"coinwatch/pkg/feed"
)

// SourceSpec describes one source's standing in the merge.
type SourceSpec struct {
	Source feed.Source
	// Priority ranks sources best-first; 1 beats 2.
	Priority int
	// Interval is the source's expected update cadence. A tick older than
	// twice this window is stale and loses to fresher lower-priority data.
	Interval time.Duration
}

// Config tunes the reconciler.
type Config struct {
	Sources []SourceSpec
	// Epsilon suppresses publishes whose relative distance from the last
	// published price is below it, e.g. 0.0005 == 0.05%.
	Epsilon float64
	// PublishInterval is the throttle window: subscribers see at most one
	// coalesced snapshot per window.
	PublishInterval time.Duration
}

const stalenessFactor = 2

// Reconciler merges ticks from every adapter into one authoritative price
// per symbol and republishes throttled snapshots.
//
// Merge policy: strict highest-priority-wins. The best-ranked source with a
// fresh tick owns the symbol outright; values are never blended or averaged
// across sources. Freshness is judged per tick against the source's
// expected cadence, so a connected source replaying a stale cached value
// loses to a fresher lower-priority tick.
//
// All merge work happens synchronously under one lock, so two adapters
// racing on the same symbol cannot interleave half-applied updates.
type Reconciler struct {
	cfg     Config
	ranks   map[feed.Source]SourceSpec
	order   []feed.Source
	history *HistoryTracker
	stats   *StatCalculator

	mu        sync.Mutex
	latest    map[string]map[feed.Source]feed.Tick
	states    map[string]*SymbolState
	published map[string]float64
	dirty     map[string]struct{}
	connected map[feed.Source]bool
	subs      map[int]func(map[string]SymbolState)
	nextSub   int
	timer     *time.Timer
	timerSet  bool
	closed    bool

	now func() int64 // test hook
}

// New builds a reconciler over the given sources.
func New(cfg Config, history *HistoryTracker, stats *StatCalculator) *Reconciler {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = 0.0005
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 100 * time.Millisecond
	}

	ranks := make(map[feed.Source]SourceSpec, len(cfg.Sources)+1)
	worst := 0
	for _, spec := range cfg.Sources {
		ranks[spec.Source] = spec
		if spec.Priority > worst {
			worst = spec.Priority
		}
	}
	// Replayed cache ticks always rank below every live source.
	if _, ok := ranks[feed.SourceCached]; !ok {
		ranks[feed.SourceCached] = SourceSpec{
			Source:   feed.SourceCached,
			Priority: worst + 1,
			Interval: 2 * time.Minute,
		}
	}
	order := make([]feed.Source, 0, len(ranks))
	for source := range ranks {
		order = append(order, source)
	}
	sort.Slice(order, func(i, j int) bool {
		return ranks[order[i]].Priority < ranks[order[j]].Priority
	})

	return &Reconciler{
		cfg:       cfg,
		ranks:     ranks,
		order:     order,
		history:   history,
		stats:     stats,
		latest:    make(map[string]map[feed.Source]feed.Tick),
		states:    make(map[string]*SymbolState),
		published: make(map[string]float64),
		dirty:     make(map[string]struct{}),
		connected: make(map[feed.Source]bool),
		subs:      make(map[int]func(map[string]SymbolState)),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Ingest merges one tick. Non-positive prices, unknown sources, and ticks
// already stale on arrival are rejected silently per the data-quality
// policy; rejection never propagates to the adapter.
func (r *Reconciler) Ingest(tick feed.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || tick.Price <= 0 || tick.Symbol == "" {
		return
	}
	spec, ok := r.ranks[tick.Source]
	if !ok {
		return
	}
	now := r.now()
	if r.stale(tick, spec, now) {
		return
	}

	bySource, ok := r.latest[tick.Symbol]
	if !ok {
		bySource = make(map[feed.Source]feed.Tick, len(r.order))
		r.latest[tick.Symbol] = bySource
	}
	bySource[tick.Source] = tick

	winner, ok := r.selectWinner(tick.Symbol, now)
	if !ok {
		return
	}
	if last, published := r.published[tick.Symbol]; published {
		if relDiff(winner.Price, last) < r.cfg.Epsilon && winner.Source == r.currentSource(tick.Symbol) {
			return // sub-epsilon noise, keep downstream quiet
		}
	}

	r.dirty[tick.Symbol] = struct{}{}
	if !r.timerSet {
		r.timerSet = true
		r.timer = time.AfterFunc(r.cfg.PublishInterval, r.publish)
	}
}

func (r *Reconciler) stale(tick feed.Tick, spec SourceSpec, now int64) bool {
	window := stalenessFactor * spec.Interval.Milliseconds()
	return tick.Timestamp > 0 && now-tick.Timestamp > window
}

// selectWinner returns the freshest-ranked tick for a symbol: the first
// source in priority order whose last tick is still inside its staleness
// window. Caller holds r.mu.
func (r *Reconciler) selectWinner(symbol string, now int64) (feed.Tick, bool) {
	bySource := r.latest[symbol]
	for _, source := range r.order {
		tick, ok := bySource[source]
		if !ok {
			continue
		}
		if r.stale(tick, r.ranks[source], now) {
			continue
		}
		return tick, true
	}
	return feed.Tick{}, false
}

func (r *Reconciler) currentSource(symbol string) feed.Source {
	if state, ok := r.states[symbol]; ok {
		return state.Source
	}
	return ""
}

// publish drains the dirty set into SymbolStates and notifies subscribers
// with snapshot copies. Runs at most once per throttle window.
func (r *Reconciler) publish() {
	r.mu.Lock()
	r.timerSet = false
	if r.closed || len(r.dirty) == 0 {
		r.mu.Unlock()
		return
	}
	now := r.now()
	for symbol := range r.dirty {
		delete(r.dirty, symbol)
		winner, ok := r.selectWinner(symbol, now)
		if !ok {
			continue
		}
		r.apply(symbol, winner, now)
	}

	snapshot := r.snapshotLocked()
	subs := make([]func(map[string]SymbolState), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(cloneSnapshot(snapshot))
	}
}

// apply folds one winning tick into the symbol's state. Caller holds r.mu.
func (r *Reconciler) apply(symbol string, tick feed.Tick, now int64) {
	r.history.Record(symbol, tick.Price, tick.Timestamp)

	prev := r.states[symbol]
	var fallback *Stats
	if prev != nil && prev.Confidence != ConfidenceNone {
		fallback = &Stats{
			Change24h:  prev.Change24h,
			High24h:    prev.High24h,
			Low24h:     prev.Low24h,
			Confidence: prev.Confidence,
		}
	}
	derived := r.stats.Compute(symbol, tick.Price, now, tick.Meta, fallback)

	state := &SymbolState{
		Symbol:     symbol,
		Price:      tick.Price,
		LastUpdate: tick.Timestamp,
		Source:     tick.Source,
		Change24h:  derived.Change24h,
		High24h:    derived.High24h,
		Low24h:     derived.Low24h,
		Volume24h:  tick.Volume24h,
		Confidence: derived.Confidence,
	}
	if prev != nil {
		if state.LastUpdate < prev.LastUpdate {
			state.LastUpdate = prev.LastUpdate
		}
		if state.Volume24h == 0 {
			state.Volume24h = prev.Volume24h
		}
	}
	r.states[symbol] = state
	r.published[symbol] = tick.Price
}

// Flush publishes any coalesced updates immediately, bypassing the
// throttle window. Used at shutdown so the last updates are not lost.
func (r *Reconciler) Flush() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
	r.publish()
}

// Snapshot returns a copy of one symbol's reconciled state. The boolean is
// false for symbols no source has ever reported; prices are never invented.
func (r *Reconciler) Snapshot(symbol string) (SymbolState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[symbol]
	if !ok {
		return SymbolState{}, false
	}
	return *state, true
}

// SnapshotAll returns copies of every reconciled state, sorted by symbol.
func (r *Reconciler) SnapshotAll() []SymbolState {
	r.mu.Lock()
	out := make([]SymbolState, 0, len(r.states))
	for _, state := range r.states {
		out = append(out, *state)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PersistSnapshot packages the current state for the persistence bridge.
func (r *Reconciler) PersistSnapshot() Snapshot {
	return Snapshot{Timestamp: r.now(), Data: r.SnapshotAll()}
}

// Restore seeds states from a persisted snapshot. Restored entries are
// re-tagged as cached so consumers can distinguish them from live data.
func (r *Reconciler) Restore(states []SymbolState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range states {
		if state.Symbol == "" || state.Price <= 0 {
			continue
		}
		if _, exists := r.states[state.Symbol]; exists {
			continue
		}
		restored := state
		restored.Source = feed.SourceCached
		r.states[state.Symbol] = &restored
		r.published[state.Symbol] = restored.Price
	}
	logx.Infof("reconcile: restored %d symbols from snapshot", len(states))
}

// Subscribe registers a listener for throttled snapshot publishes and
// returns its cancel function. Listeners receive fresh map copies.
func (r *Reconciler) Subscribe(fn func(map[string]SymbolState)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// SetConnected records an adapter connectivity transition.
func (r *Reconciler) SetConnected(source feed.Source, up bool, lastErr string) {
	r.mu.Lock()
	r.connected[source] = up
	r.mu.Unlock()
	if up {
		logx.Infof("reconcile: source %s up", source)
	} else {
		logx.Infof("reconcile: source %s down: %s", source, lastErr)
	}
}

// Live reports whether at least one source is currently connected.
func (r *Reconciler) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, up := range r.connected {
		if up {
			return true
		}
	}
	return false
}

// PrimarySource names the best-ranked source currently winning at least
// one symbol. Diagnostic only.
func (r *Reconciler) PrimarySource() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := ""
	bestRank := int(^uint(0) >> 1)
	for _, state := range r.states {
		spec, ok := r.ranks[state.Source]
		if !ok {
			continue
		}
		if spec.Priority < bestRank {
			best, bestRank = string(state.Source), spec.Priority
		}
	}
	return best
}

// LastSeen returns the newest tick timestamp observed from the given
// source across all symbols, 0 when the source has never reported.
func (r *Reconciler) LastSeen(source feed.Source) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest int64
	for _, bySource := range r.latest {
		if tick, ok := bySource[source]; ok && tick.Timestamp > newest {
			newest = tick.Timestamp
		}
	}
	return newest
}

// Close stops the publish timer and drops all subscribers. The state table
// remains readable for final snapshotting.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
	}
	r.subs = make(map[int]func(map[string]SymbolState))
}

func (r *Reconciler) snapshotLocked() map[string]SymbolState {
	out := make(map[string]SymbolState, len(r.states))
	for symbol, state := range r.states {
		out[symbol] = *state
	}
	return out
}

func cloneSnapshot(in map[string]SymbolState) map[string]SymbolState {
	out := make(map[string]SymbolState, len(in))
	for symbol, state := range in {
		out[symbol] = state
	}
	return out
}
