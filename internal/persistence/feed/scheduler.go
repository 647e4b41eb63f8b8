package feedpersist

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"

	"coinwatch/pkg/reconcile"
)

// Scheduler bridges the reconciler to the persistence stores. It subscribes
// to snapshot publishes and flushes at most once per write interval, so a
// busy market cannot turn into a disk or database write storm.
type Scheduler struct {
	reconciler *reconcile.Reconciler
	history    *reconcile.HistoryTracker
	service    *Service       // nil when neither Postgres nor Redis configured
	store      *SnapshotStore // nil when file snapshots disabled
	interval   time.Duration

	dirty     atomic.Bool
	cancelSub func()
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler builds a persistence scheduler.
func NewScheduler(rec *reconcile.Reconciler, history *reconcile.HistoryTracker, service *Service, store *SnapshotStore, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		reconciler: rec,
		history:    history,
		service:    service,
		store:      store,
		interval:   interval,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start subscribes to the reconciler and begins the flush loop.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.cancelSub = s.reconciler.Subscribe(func(map[string]reconcile.SymbolState) {
			s.dirty.Store(true)
		})
		go s.run()
	})
}

// Stop halts the loop and performs one final flush so the freshest state
// survives the restart.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancelSub != nil {
			s.cancelSub()
		}
		close(s.stop)
		<-s.done
		s.flush(context.Background())
	})
}

// Restore seeds the reconciler and history from whichever store answers
// first: file snapshot for states, Redis then file for history.
func (s *Scheduler) Restore(ctx context.Context) {
	states := s.restoreStates(ctx)
	if len(states) > 0 {
		s.reconciler.Restore(states)
	}
	s.restoreHistory(ctx, states)
}

func (s *Scheduler) restoreStates(ctx context.Context) []reconcile.SymbolState {
	if s.store != nil {
		snapshot, err := s.store.Load()
		if err != nil {
			logx.WithContext(ctx).Errorf("feedpersist: load snapshot err=%v", err)
		} else if len(snapshot.Data) > 0 {
			return snapshot.Data
		}
	}
	if s.service != nil {
		return s.service.LoadLatest(ctx)
	}
	return nil
}

func (s *Scheduler) restoreHistory(ctx context.Context, states []reconcile.SymbolState) {
	if s.history == nil {
		return
	}
	if s.service != nil {
		restored := false
		for _, state := range states {
			blob := s.service.LoadHistory(ctx, state.Symbol)
			if len(blob) == 0 {
				continue
			}
			var entries []reconcile.HistoryEntry
			if err := msgpack.Unmarshal(blob, &entries); err != nil {
				logx.WithContext(ctx).Errorf("feedpersist: decode history symbol=%s err=%v", state.Symbol, err)
				continue
			}
			s.history.Restore(state.Symbol, entries)
			restored = true
		}
		if restored {
			return
		}
	}
	if s.store == nil {
		return
	}
	table, err := s.store.LoadHistory()
	if err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: load history err=%v", err)
		return
	}
	for symbol, entries := range table {
		s.history.Restore(symbol, entries)
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.dirty.CompareAndSwap(true, false) {
				s.flush(context.Background())
			}
		}
	}
}

func (s *Scheduler) flush(ctx context.Context) {
	states := s.reconciler.SnapshotAll()
	if len(states) == 0 {
		return
	}
	if s.store != nil {
		snapshot := reconcile.Snapshot{Timestamp: time.Now().UTC().UnixMilli(), Data: states}
		if err := s.store.Save(snapshot); err != nil {
			logx.WithContext(ctx).Errorf("feedpersist: save snapshot err=%v", err)
		}
		if s.history != nil {
			if err := s.store.SaveHistory(s.history.Dump()); err != nil {
				logx.WithContext(ctx).Errorf("feedpersist: save history err=%v", err)
			}
		}
	}
	if s.service != nil {
		s.service.PersistStates(ctx, states)
		if s.history != nil {
			for symbol, entries := range s.history.Dump() {
				blob, err := msgpack.Marshal(entries)
				if err != nil {
					logx.WithContext(ctx).Errorf("feedpersist: encode history symbol=%s err=%v", symbol, err)
					continue
				}
				s.service.PersistHistory(ctx, symbol, blob)
			}
		}
	}
}
