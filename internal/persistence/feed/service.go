package feedpersist

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "coinwatch/internal/cache"
	"coinwatch/internal/model"
	"coinwatch/pkg/reconcile"
)

// Service mirrors reconciled prices into Postgres and Redis. Every write is
// best-effort: a failing store is logged and skipped, it never blocks the
// price pipeline or surfaces to callers.
type Service struct {
	sqlConn     sqlx.SqlConn
	latestModel model.PriceLatestModel
	ticksModel  model.PriceTicksModel
	redis       *redis.Redis
	ttl         cachekeys.TTLSet
}

// Config enumerates dependencies required to persist reconciled prices. Any
// of them may be nil; the service degrades to whatever stores remain.
type Config struct {
	SQLConn     sqlx.SqlConn
	LatestModel model.PriceLatestModel
	TicksModel  model.PriceTicksModel
	Redis       *redis.Redis
	TTL         cachekeys.TTLSet
}

// NewService wires a price persistence service. Returns nil when no store
// is configured at all.
func NewService(cfg Config) *Service {
	if cfg.SQLConn == nil && cfg.Redis == nil {
		return nil
	}
	return &Service{
		sqlConn:     cfg.SQLConn,
		latestModel: cfg.LatestModel,
		ticksModel:  cfg.TicksModel,
		redis:       cfg.Redis,
		ttl:         cfg.TTL,
	}
}

// PersistStates writes one reconciled snapshot to every configured store.
func (s *Service) PersistStates(ctx context.Context, states []reconcile.SymbolState) {
	if s == nil || len(states) == 0 {
		return
	}
	for _, state := range states {
		if strings.TrimSpace(state.Symbol) == "" || state.Price <= 0 {
			continue
		}
		s.upsertLatest(ctx, state)
		s.insertTick(ctx, state)
		s.cachePrice(ctx, state)
	}
	s.cacheBundle(ctx, states)
}

// PersistHistory mirrors one symbol's rolling history blob to Redis.
func (s *Service) PersistHistory(ctx context.Context, symbol string, blob []byte) {
	if s == nil || s.redis == nil || len(blob) == 0 {
		return
	}
	key := cachekeys.HistoryKey(symbol)
	seconds := int(cachekeys.HistoryTTL() / time.Second)
	if err := s.redis.SetexCtx(ctx, key, string(blob), seconds); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: set history key=%s err=%v", key, err)
	}
}

// LoadHistory restores one symbol's history blob, nil when absent.
func (s *Service) LoadHistory(ctx context.Context, symbol string) []byte {
	if s == nil || s.redis == nil {
		return nil
	}
	key := cachekeys.HistoryKey(symbol)
	value, err := s.redis.GetCtx(ctx, key)
	if err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: load history key=%s err=%v", key, err)
		return nil
	}
	if value == "" {
		return nil
	}
	return []byte(value)
}

// RecordSourceHealth mirrors an adapter connectivity report to Redis.
func (s *Service) RecordSourceHealth(ctx context.Context, source string, connected bool, lastErr string) {
	if s == nil || s.redis == nil {
		return
	}
	key := cachekeys.SourceHealthKey(source)
	payload, _ := json.Marshal(map[string]any{
		"connected":  connected,
		"last_error": lastErr,
		"updated_at": time.Now().UTC().UnixMilli(),
	})
	seconds := int(cachekeys.SourceHealthTTL(s.ttl) / time.Second)
	if seconds <= 0 {
		return
	}
	if err := s.redis.SetexCtx(ctx, key, string(payload), seconds); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: set source health key=%s err=%v", key, err)
	}
}

// LoadLatest restores persisted states from Postgres, best-effort.
func (s *Service) LoadLatest(ctx context.Context) []reconcile.SymbolState {
	if s == nil || s.latestModel == nil {
		return nil
	}
	rows, err := s.latestModel.FindAll(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: load latest err=%v", err)
		return nil
	}
	states := make([]reconcile.SymbolState, 0, len(rows))
	for _, row := range rows {
		states = append(states, reconcile.SymbolState{
			Symbol:     row.Symbol,
			Price:      row.Price,
			LastUpdate: row.TsMs,
			Change24h:  row.Change24h.Float64,
			High24h:    row.High24h.Float64,
			Low24h:     row.Low24h.Float64,
			Volume24h:  row.Volume24h.Float64,
			Confidence: reconcile.ConfidenceSource(row.Confidence),
		})
	}
	return states
}

func (s *Service) upsertLatest(ctx context.Context, state reconcile.SymbolState) {
	if s.latestModel == nil {
		return
	}
	row := &model.PriceLatest{
		Symbol:     state.Symbol,
		Price:      state.Price,
		Source:     string(state.Source),
		Change24h:  sql.NullFloat64{Float64: state.Change24h, Valid: state.Confidence != reconcile.ConfidenceNone},
		High24h:    sql.NullFloat64{Float64: state.High24h, Valid: state.High24h > 0},
		Low24h:     sql.NullFloat64{Float64: state.Low24h, Valid: state.Low24h > 0},
		Volume24h:  sql.NullFloat64{Float64: state.Volume24h, Valid: state.Volume24h > 0},
		Confidence: string(state.Confidence),
		TsMs:       state.LastUpdate,
	}
	if err := s.latestModel.Upsert(ctx, row); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: upsert latest symbol=%s err=%v", state.Symbol, err)
	}
}

func (s *Service) insertTick(ctx context.Context, state reconcile.SymbolState) {
	if s.ticksModel == nil {
		return
	}
	row := &model.PriceTick{
		Symbol: state.Symbol,
		Price:  state.Price,
		Source: string(state.Source),
		TsMs:   state.LastUpdate,
	}
	if err := s.ticksModel.Insert(ctx, row); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: insert tick symbol=%s err=%v", state.Symbol, err)
	}
}

func (s *Service) cachePrice(ctx context.Context, state reconcile.SymbolState) {
	if s.redis == nil {
		return
	}
	seconds := int(cachekeys.PriceTTL(s.ttl) / time.Second)
	if seconds <= 0 {
		return
	}
	payload, _ := json.Marshal(state)
	key := cachekeys.PriceLatestKey(state.Symbol)
	if err := s.redis.SetexCtx(ctx, key, string(payload), seconds); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: set price key=%s err=%v", key, err)
	}
	scoped := cachekeys.PriceBySourceKey(string(state.Source), state.Symbol)
	if err := s.redis.SetexCtx(ctx, scoped, string(payload), seconds); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: set price key=%s err=%v", scoped, err)
	}
}

func (s *Service) cacheBundle(ctx context.Context, states []reconcile.SymbolState) {
	if s.redis == nil {
		return
	}
	seconds := int(cachekeys.PricesBundleTTL(s.ttl) / time.Second)
	if seconds <= 0 {
		return
	}
	payload, _ := json.Marshal(reconcile.Snapshot{
		Timestamp: time.Now().UTC().UnixMilli(),
		Data:      states,
	})
	key := cachekeys.PricesBundleKey()
	if err := s.redis.SetexCtx(ctx, key, string(payload), seconds); err != nil {
		logx.WithContext(ctx).Errorf("feedpersist: set bundle key=%s err=%v", key, err)
	}
}
