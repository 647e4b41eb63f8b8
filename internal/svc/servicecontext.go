package svc

import (
	"context"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "coinwatch/internal/cache"
	"coinwatch/internal/config"
	"coinwatch/internal/model"
	feedpersist "coinwatch/internal/persistence/feed"
	"coinwatch/pkg/feed"
	_ "coinwatch/pkg/feed/sources" // register source adapters
	"coinwatch/pkg/reconcile"
)

type ServiceContext struct {
	Config config.Config

	FeedConfig *feed.Config
	Adapters   map[string]feed.Adapter
	Reconciler *reconcile.Reconciler
	History    *reconcile.HistoryTracker

	Persistence *feedpersist.Service
	Scheduler   *feedpersist.Scheduler

	// Optional stores; nil / zero when not configured.
	DBConn           sqlx.SqlConn
	PriceLatestModel model.PriceLatestModel
	PriceTicksModel  model.PriceTicksModel
	Redis            *redis.Redis
	TTL              cachekeys.TTLSet
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{
		Config: c,
		TTL:    cachekeys.NewTTLSet(c.TTL),
	}

	if c.Feed.Value == nil {
		log.Fatalf("feed config is required; set feed.file in the main config")
	}
	svc.FeedConfig = c.Feed.Value

	reconcilerCfg, historyCfg := reconcile.FromFeedConfig(svc.FeedConfig)
	svc.History = reconcile.NewHistoryTracker(historyCfg)
	stats := reconcile.NewStatCalculator(reconcile.StatsConfig{}, svc.History)
	svc.Reconciler = reconcile.New(reconcilerCfg, svc.History, stats)

	// Only inject DB models when DSN provided; the pipeline runs without them.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.PriceLatestModel = model.NewPriceLatestModel(conn)
		svc.PriceTicksModel = model.NewPriceTicksModel(conn)
	}
	if len(c.Redis.Host) > 0 {
		svc.Redis = redis.MustNewRedis(c.Redis)
	}

	svc.Persistence = feedpersist.NewService(feedpersist.Config{
		SQLConn:     svc.DBConn,
		LatestModel: svc.PriceLatestModel,
		TicksModel:  svc.PriceTicksModel,
		Redis:       svc.Redis,
		TTL:         svc.TTL,
	})

	store := feedpersist.NewSnapshotStore(
		c.SnapshotPath(),
		c.HistorySnapshotPath(),
		time.Duration(c.Snapshot.MaxAge)*time.Second,
	)
	svc.Scheduler = feedpersist.NewScheduler(
		svc.Reconciler,
		svc.History,
		svc.Persistence,
		store,
		time.Duration(c.Snapshot.WriteInterval)*time.Second,
	)
	svc.Scheduler.Restore(context.Background())

	adapters, err := svc.FeedConfig.BuildAdapters(feed.Deps{
		Sink: svc.Reconciler.Ingest,
		OnState: func(source feed.Source, connected bool, lastErr string) {
			svc.Reconciler.SetConnected(source, connected, lastErr)
			svc.Persistence.RecordSourceHealth(context.Background(), string(source), connected, lastErr)
		},
	})
	if err != nil {
		log.Fatalf("failed to build feed adapters: %v", err)
	}
	svc.Adapters = adapters

	return svc
}

// Start launches every adapter and the persistence loop.
func (s *ServiceContext) Start(ctx context.Context) {
	s.Scheduler.Start()
	for name, adapter := range s.Adapters {
		adapter.Start(ctx)
		logx.Infof("svc: started adapter %s (source=%s)", name, adapter.Source())
	}
}

// Shutdown stops adapters first so no new ticks arrive, then flushes the
// last coalesced updates and persists them.
func (s *ServiceContext) Shutdown() {
	for _, adapter := range s.Adapters {
		adapter.Stop()
	}
	s.Reconciler.Flush()
	s.Scheduler.Stop()
	s.Reconciler.Close()
}
